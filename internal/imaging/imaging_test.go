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
	"image/color"
	"math/rand"
	"testing"

	"github.com/zeebo/assert"
)

func stepFrame(w, h, edge int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if x >= edge {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestLuma(t *testing.T) {
	assert.Equal(t, Luma(0, 0, 0), uint8(0))
	assert.Equal(t, Luma(255, 255, 255), uint8(255))
	assert.Equal(t, Luma(255, 0, 0), uint8(76))
	assert.Equal(t, Luma(0, 255, 0), uint8(150))
	assert.Equal(t, Luma(0, 0, 255), uint8(29))
}

func TestCannyStepEdge(t *testing.T) {
	edges := Canny(Grayscale(stepFrame(32, 16, 12)), DefaultCannyLow, DefaultCannyHigh)
	count := 0
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			if edges.GrayAt(x, y).Y == 255 {
				count++
				assert.Equal(t, x, 11)
			}
		}
	}
	assert.Equal(t, count, 16)
}

func TestCannyFlatFrameHasNoEdges(t *testing.T) {
	flat := image.NewUniform(color.RGBA{R: 90, G: 120, B: 30, A: 255})
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, flat.C)
		}
	}
	edges := Canny(Grayscale(img), DefaultCannyLow, DefaultCannyHigh)
	for _, v := range edges.Pix {
		assert.Equal(t, v, uint8(0))
	}
}

func TestCannyIsBimodalAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	rng.Read(img.Pix)
	a := Canny(Grayscale(img), DefaultCannyLow, DefaultCannyHigh)
	b := Canny(Grayscale(img), DefaultCannyLow, DefaultCannyHigh)
	assert.DeepEqual(t, a.Pix, b.Pix)
	for _, v := range a.Pix {
		assert.That(t, v == 0 || v == 255)
	}
}

func TestReplicateChannelsRoundTrip(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(gray.Pix, []uint8{0, 255, 0, 255, 0, 255})
	rgb := ReplicateChannels(gray)
	assert.DeepEqual(t, Grayscale(rgb).Pix, gray.Pix)
	assert.Equal(t, rgb.RGBAAt(1, 0), color.RGBA{R: 255, G: 255, B: 255, A: 255})
}

func TestPackBits(t *testing.T) {
	packed := PackBits([]byte{1, 0, 1, 1, 0, 0, 0, 1, 1})
	assert.DeepEqual(t, packed, []byte{0xb1, 0x80})
	assert.DeepEqual(t, UnpackBits(packed, 9), []byte{1, 0, 1, 1, 0, 0, 0, 1, 1})
}

func TestBinarizeThresholdIsStrict(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(gray.Pix, []uint8{0, 127, 128, 255})
	assert.DeepEqual(t, Binarize(gray, 127), []byte{0, 0, 1, 1})
}

func TestScaledHeight(t *testing.T) {
	assert.Equal(t, ScaledHeight(640, 480, 192), 144)
	assert.Equal(t, ScaledHeight(1000, 1, 192), 1)
	assert.Equal(t, ScaledHeight(333, 250, 192), 144)
}

func TestResizeKeepsRequestedSize(t *testing.T) {
	src := stepFrame(64, 48, 10)
	assert.Equal(t, ResizeNearest(src, 16, 12).Bounds().Size(), image.Pt(16, 12))
	assert.Equal(t, ResizeBilinear(src, 100, 75).Bounds().Size(), image.Pt(100, 75))
}

func TestDSSIM(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := image.NewRGBA(image.Rect(0, 0, 32, 24))
	rng.Read(a.Pix)
	for i := 3; i < len(a.Pix); i += 4 {
		a.Pix[i] = 255
	}

	d, err := DSSIM{}.Distance(a, a)
	assert.NoError(t, err)
	assert.Equal(t, d, 0.0)

	b := image.NewRGBA(a.Bounds())
	for i := range b.Pix {
		b.Pix[i] = 255 - a.Pix[i]
	}
	d, err = DSSIM{}.Distance(a, b)
	assert.NoError(t, err)
	assert.That(t, d > 0.1)

	_, err = DSSIM{}.Distance(a, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.Error(t, err)
}
