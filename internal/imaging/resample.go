// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ResizeNearest scales img to w x h with nearest-neighbour sampling.
func ResizeNearest(img image.Image, w, h int) *image.RGBA {
	return scale(draw.NearestNeighbor, img, w, h)
}

// ResizeBilinear scales img to w x h with bilinear interpolation.
func ResizeBilinear(img image.Image, w, h int) *image.RGBA {
	return scale(draw.BiLinear, img, w, h)
}

// ResizeGrayNearest is the single-channel variant of ResizeNearest.
func ResizeGrayNearest(img *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ScaledHeight keeps the aspect ratio of a w x h frame at targetWidth,
// truncating toward zero and never returning less than one row.
func ScaledHeight(w, h, targetWidth int) int {
	if w <= 0 {
		return 1
	}
	out := h * targetWidth / w
	if out < 1 {
		return 1
	}
	return out
}

func scale(s draw.Scaler, img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return dst
	}
	s.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
