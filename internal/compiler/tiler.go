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

package compiler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/shard"
)

const TileSize = 512

// SlideSource abstracts a pyramidal slide reader: a set of native
// resolution levels, each independently addressable by pixel region. The
// compiler picks whichever native level has downsample <= target and
// resizes down from there (spec §4.4 step 3).
type SlideSource interface {
	Width() uint32
	Height() uint32
	NativeLevelCount() uint32
	NativeDownsample(level uint32) float64
	ReadRegion(level uint32, x, y, w, h uint32) (image.Image, error)
}

// TileWriter is the shard engine's write path, reached in-process or over
// StorageApi depending on deployment (mirrors stream.TileFetcher on the
// read side).
type TileWriter interface {
	WriteTile(ctx context.Context, id uuid.UUID, x, y, level uint32, body []byte) error
}

// CalculateMaxMipLevel returns the coarsest level needed before both
// dimensions are within one tile (spec §3 "Mip pyramid").
func CalculateMaxMipLevel(width, height uint32) uint32 {
	maxDim := width
	if height > maxDim {
		maxDim = height
	}
	if maxDim <= TileSize {
		return 0
	}
	return uint32(math.Ceil(math.Log2(float64(maxDim) / float64(TileSize))))
}

func levelDimensions(width, height, level uint32) (uint32, uint32) {
	scale := uint32(1) << level
	return ceilDivU32(width, scale), ceilDivU32(height, scale)
}

func tileGrid(levelW, levelH uint32) (uint32, uint32) {
	return ceilDivU32(levelW, TileSize), ceilDivU32(levelH, TileSize)
}

func ceilDivU32(n, d uint32) uint32 {
	if d == 0 {
		return n
	}
	return (n + d - 1) / d
}

// bestNativeLevel picks the native level with the largest downsample that
// is still <= target, i.e. the coarsest native level that is not coarser
// than the target, so the region is only ever scaled down, never up
// (spec §4.4 step 3, grounded on original_source's
// find_best_native_level).
func bestNativeLevel(src SlideSource, targetScale float64) uint32 {
	best := uint32(0)
	bestDownsample := -1.0
	for lvl := uint32(0); lvl < src.NativeLevelCount(); lvl++ {
		d := src.NativeDownsample(lvl)
		if d <= targetScale && d > bestDownsample {
			best = lvl
			bestDownsample = d
		}
	}
	return best
}

// Tiler decomposes one open slide into a full mip pyramid, writing each
// tile through a TileWriter and checkpointing progress through a Store.
type Tiler struct {
	Store  *Store
	Writer TileWriter
}

// ProcessSlide implements spec §4.4 step 3: enumerate every level from 0
// to max_mip_level, resuming at each level's checkpoint.
func (t *Tiler) ProcessSlide(ctx context.Context, slideID uuid.UUID, src SlideSource) error {
	maxLevel := CalculateMaxMipLevel(src.Width(), src.Height())
	for level := uint32(0); level <= maxLevel; level++ {
		done, err := t.Store.IsLevelComplete(ctx, slideID.String(), level)
		if err != nil {
			return fmt.Errorf("compiler: checkpoint lookup: %w", err)
		}
		if done {
			continue
		}
		if err := t.processLevel(ctx, slideID, src, level); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tiler) processLevel(ctx context.Context, slideID uuid.UUID, src SlideSource, level uint32) error {
	levelW, levelH := levelDimensions(src.Width(), src.Height(), level)
	gridW, gridH := tileGrid(levelW, levelH)
	totalTiles := int(gridW) * int(gridH)

	checkpoint := 0
	if totalTiles >= CheckpointMinTiles {
		c, err := t.Store.GetCheckpoint(ctx, slideID.String(), level)
		if err != nil {
			return fmt.Errorf("compiler: get checkpoint: %w", err)
		}
		checkpoint = c
	}

	targetScale := float64(uint64(1) << level)
	nativeLevel := bestNativeLevel(src, targetScale)
	nativeDownsample := src.NativeDownsample(nativeLevel)

	index := 0
	for ty := uint32(0); ty < gridH; ty++ {
		for tx := uint32(0); tx < gridW; tx++ {
			if index < checkpoint {
				index++
				continue
			}
			if err := t.emitTile(ctx, slideID, src, level, tx, ty, levelW, levelH, nativeLevel, nativeDownsample); err != nil {
				return fmt.Errorf("compiler: tile (%d,%d,%d): %w", level, tx, ty, err)
			}
			index++
			if totalTiles >= CheckpointMinTiles && index%CheckpointInterval == 0 {
				if err := t.Store.UpdateCheckpoint(ctx, slideID.String(), level, index, totalTiles); err != nil {
					return fmt.Errorf("compiler: update checkpoint: %w", err)
				}
			}
		}
	}
	return t.Store.MarkLevelComplete(ctx, slideID.String(), level, totalTiles)
}

func (t *Tiler) emitTile(ctx context.Context, slideID uuid.UUID, src SlideSource, level, tx, ty, levelW, levelH, nativeLevel uint32, nativeDownsample float64) error {
	tileW := uint32(TileSize)
	if rem := levelW - tx*TileSize; rem < tileW {
		tileW = rem
	}
	tileH := uint32(TileSize)
	if rem := levelH - ty*TileSize; rem < tileH {
		tileH = rem
	}
	if tileW == 0 || tileH == 0 {
		return nil
	}

	additionalScale := (float64(uint64(1) << level)) / nativeDownsample
	nativeX := uint32(float64(tx*TileSize) * additionalScale)
	nativeY := uint32(float64(ty*TileSize) * additionalScale)
	nativeW := uint32(math.Ceil(float64(tileW) * additionalScale))
	nativeH := uint32(math.Ceil(float64(tileH) * additionalScale))

	region, err := src.ReadRegion(nativeLevel, nativeX, nativeY, nativeW, nativeH)
	if err != nil {
		return fmt.Errorf("read region: %w", err)
	}

	resized := region
	if region.Bounds().Dx() != int(tileW) || region.Bounds().Dy() != int(tileH) {
		resized = imaging.Resize(region, int(tileW), int(tileH), imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: 85}); err != nil {
		return fmt.Errorf("webp encode: %w", err)
	}

	if err := t.Writer.WriteTile(ctx, slideID, tx, ty, level, buf.Bytes()); err != nil {
		if err == shard.ErrPrecondition {
			return err
		}
		return fmt.Errorf("write tile: %w", err)
	}
	return nil
}
