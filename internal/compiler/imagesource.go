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
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
)

// SingleLevelSource adapts a flat image file (no embedded pyramid) to the
// SlideSource interface: it exposes exactly one native level at
// downsample 1.0, and ReadRegion crops directly out of the decoded image.
// Slide formats carrying their own embedded pyramid are read through a
// format-specific SlideSource implementation instead; the tiler only
// depends on the interface.
type SingleLevelSource struct {
	img *image.NRGBA
}

func OpenSingleLevelSource(path string) (SlideSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return &SingleLevelSource{img: imaging.Clone(img)}, nil
}

func (s *SingleLevelSource) Width() uint32  { return uint32(s.img.Bounds().Dx()) }
func (s *SingleLevelSource) Height() uint32 { return uint32(s.img.Bounds().Dy()) }

func (s *SingleLevelSource) NativeLevelCount() uint32 { return 1 }

func (s *SingleLevelSource) NativeDownsample(level uint32) float64 { return 1.0 }

func (s *SingleLevelSource) ReadRegion(level uint32, x, y, w, h uint32) (image.Image, error) {
	b := s.img.Bounds()
	rect := image.Rect(b.Min.X+int(x), b.Min.Y+int(y), b.Min.X+int(x+w), b.Min.Y+int(y+h)).Intersect(b)
	return s.img.SubImage(rect), nil
}
