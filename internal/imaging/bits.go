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

// Binarize maps every pixel of gray to 1 when it is strictly above
// threshold and 0 otherwise, in row-major order.
func Binarize(gray *image.Gray, threshold uint8) []byte {
	b := gray.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[(y+b.Min.Y-gray.Rect.Min.Y)*gray.Stride+(b.Min.X-gray.Rect.Min.X):]
		for x := 0; x < b.Dx(); x++ {
			if row[x] > threshold {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

// PackBits packs a flat slice of 0/1 values eight to a byte, most
// significant bit first. The final byte is zero padded.
func PackBits(bits []byte) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v != 0 {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// UnpackBits reverses PackBits, returning exactly n values.
func UnpackBits(packed []byte, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n && i/8 < len(packed); i++ {
		if packed[i/8]&(0x80>>uint(i%8)) != 0 {
			out[i] = 1
		}
	}
	return out
}

// BitsToGray lays a flat 0/1 slice out as a w x h edge map (0 or 255).
func BitsToGray(bits []byte, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < w*h && i < len(bits); i++ {
		if bits[i] != 0 {
			out.Pix[(i/w)*out.Stride+i%w] = 0xff
		}
	}
	return out
}
