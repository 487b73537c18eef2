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

import "image"

// Default Canny hysteresis thresholds on the 0-255 intensity scale.
const (
	DefaultCannyLow  = 50
	DefaultCannyHigh = 150
)

// tan(22.5deg) and tan(67.5deg) in 15-bit fixed point, used to bucket the
// gradient direction without trigonometry.
const (
	tg22 = 13573 // 0.4142135623730950488016887242097 * (1 << 15)
	tg67 = 79109 // 2.4142135623730950488016887242097 * (1 << 15)
)

// Canny runs the classic two-threshold edge detector on gray: 3x3 Sobel
// derivatives with replicated borders, L1 gradient magnitude, non-maximum
// suppression along the quantised gradient direction, then hysteresis
// tracking over the 8-neighbourhood. Pixels with magnitude above high seed
// edges; pixels above low join an edge only when connected to a seed.
//
// The result holds 255 for edge pixels and 0 elsewhere.
func Canny(gray *image.Gray, low, high float64) *image.Gray {
	if low > high {
		low, high = high, low
	}
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	at := func(x, y int) int32 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return int32(gray.Pix[(y+b.Min.Y-gray.Rect.Min.Y)*gray.Stride+(x+b.Min.X-gray.Rect.Min.X)])
	}

	dx := make([]int32, w*h)
	dy := make([]int32, w*h)
	mag := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*w + x
			dx[i], dy[i] = gx, gy
			mag[i] = abs32(gx) + abs32(gy)
		}
	}

	magAt := func(x, y int) int32 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none      = 0
		candidate = 1
		strong    = 2
	)
	state := make([]uint8, w*h)
	stack := make([]int, 0, w)
	lowT, highT := int32(low), int32(high)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= lowT {
				continue
			}
			gx, gy := int64(abs32(dx[i])), int64(abs32(dy[i]))<<15
			tg22x := gx * tg22
			var keep bool
			switch {
			case gy < tg22x:
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case gy > gx*tg67:
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (dx[i] < 0) != (dy[i] < 0) {
					s = -1
				}
				keep = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !keep {
				continue
			}
			if m > highT {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = candidate
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[(i/w)*out.Stride+i%w] = 0xff
		x, y := i%w, i/w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == candidate {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
