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
	"fmt"
	"image"
)

const (
	ssimWindow = 8
	ssimStride = 4
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// DSSIM is a structural dissimilarity metric over BT.601 luma. It averages
// SSIM over 8x8 windows placed every 4 pixels and reports (1 - SSIM) / 2,
// which is 0 for identical frames and grows as structure diverges.
type DSSIM struct{}

// Distance compares two frames of identical dimensions.
func (DSSIM) Distance(a, b image.Image) (float64, error) {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return 0, fmt.Errorf("dssim: size mismatch %v vs %v", a.Bounds().Size(), b.Bounds().Size())
	}
	ga, gb := Grayscale(a), Grayscale(b)
	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0, nil
	}
	win := ssimWindow
	if w < win || h < win {
		win = min(w, h)
	}
	var total float64
	var count int
	for y := 0; y+win <= h; y += ssimStride {
		for x := 0; x+win <= w; x += ssimStride {
			total += windowSSIM(ga, gb, x, y, win)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	d := (1 - total/float64(count)) / 2
	if d < 0 {
		d = 0
	}
	return d, nil
}

func windowSSIM(a, b *image.Gray, x0, y0, win int) float64 {
	var sa, sb, saa, sbb, sab float64
	for y := y0; y < y0+win; y++ {
		ra := a.Pix[y*a.Stride:]
		rb := b.Pix[y*b.Stride:]
		for x := x0; x < x0+win; x++ {
			va, vb := float64(ra[x]), float64(rb[x])
			sa += va
			sb += vb
			saa += va * va
			sbb += vb * vb
			sab += va * vb
		}
	}
	n := float64(win * win)
	ma, mb := sa/n, sb/n
	va := saa/n - ma*ma
	vb := sbb/n - mb*mb
	cov := sab/n - ma*mb
	return ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) / ((ma*ma + mb*mb + ssimC1) * (va + vb + ssimC2))
}
