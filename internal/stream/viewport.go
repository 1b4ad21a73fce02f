/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package stream

import "math"

const TileSize = 512

// ImageDesc is the descriptor echoed back on Open: enough to compute a mip
// pyramid's tile grid at any level (spec §3 "Mip pyramid").
type ImageDesc struct {
	Width      uint32
	Height     uint32
	LevelCount uint32
}

// Viewport is a rectangle in image coordinates plus a zoom factor (image
// pixels per screen pixel).
type Viewport struct {
	X, Y          float32
	Width, Height uint32
	Zoom          float32
}

// MinLevel returns the coarsest mip level still useful for this viewport:
// the smallest level whose tile resolves to <= 1 image pixel per screen
// pixel (spec §4.5 "Viewport min-level rule").
func MinLevel(v Viewport, levelCount uint32) uint32 {
	if v.Zoom <= 1 {
		return 0
	}
	level := uint32(math.Ceil(math.Log2(float64(v.Zoom))))
	if level >= levelCount {
		return levelCount - 1
	}
	return level
}

// levelDims returns the pixel dimensions of the image at level L (spec §3).
func levelDims(desc ImageDesc, level uint32) (uint32, uint32) {
	w := ceilDiv(desc.Width, 1<<level)
	h := ceilDiv(desc.Height, 1<<level)
	return w, h
}

func ceilDiv(n, d uint32) uint32 {
	if d == 0 {
		return n
	}
	return (n + d - 1) / d
}

// TileGrid returns the tile-grid dimensions at level L.
func TileGrid(desc ImageDesc, level uint32) (uint32, uint32) {
	w, h := levelDims(desc, level)
	return ceilDiv(w, TileSize), ceilDiv(h, TileSize)
}

// IsTileInViewport reports whether tile (x,y) at level intersects v,
// expressed in the tile's own level-local pixel coordinates.
func IsTileInViewport(desc ImageDesc, level, x, y uint32, v Viewport) bool {
	tileLeft := float32(x * TileSize)
	tileTop := float32(y * TileSize)
	tileRight := tileLeft + TileSize
	tileBottom := tileTop + TileSize

	// The viewport is expressed at level 0 scale; project it down to this
	// level by the same power-of-two factor used for image dimensions.
	scale := float32(uint32(1) << level)
	vLeft := v.X / scale
	vTop := v.Y / scale
	vRight := vLeft + float32(v.Width)*v.Zoom/scale
	vBottom := vTop + float32(v.Height)*v.Zoom/scale

	return tileLeft < vRight && tileRight > vLeft && tileTop < vBottom && tileBottom > vTop
}

// VisibleTiles enumerates every tile coordinate at level that intersects v.
func VisibleTiles(desc ImageDesc, level uint32, v Viewport) []TileCoord {
	gridW, gridH := TileGrid(desc, level)
	var out []TileCoord
	for y := uint32(0); y < gridH; y++ {
		for x := uint32(0); x < gridW; x++ {
			if IsTileInViewport(desc, level, x, y, v) {
				out = append(out, TileCoord{X: x, Y: y, Level: level})
			}
		}
	}
	return out
}

// TileCoord is a (level, x, y) coordinate within one open slide.
type TileCoord struct {
	Level, X, Y uint32
}
