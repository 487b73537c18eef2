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

package test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/jaycherian/gencomm-video/internal/core/decoder"
)

// FakeCaptioner returns Text for every frame and counts calls.
type FakeCaptioner struct {
	Text  string
	Err   error
	mu    sync.Mutex
	calls int
}

func (f *FakeCaptioner) Caption(_ context.Context, _ image.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return "", f.Err
	}
	return f.Text, nil
}

func (f *FakeCaptioner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// RecordingGenerator paints the structure condition onto a coloured canvas,
// varying the colour per call, and records every request it receives. A zero
// Size keeps the condition's dimensions.
type RecordingGenerator struct {
	Size     image.Point
	Err      error
	mu       sync.Mutex
	requests []decoder.GenerationRequest
}

var ErrGeneratorFailed = errors.New("generator failed")

func (g *RecordingGenerator) Generate(_ context.Context, req decoder.GenerationRequest) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.Err != nil {
		return nil, g.Err
	}
	size := g.Size
	if size == (image.Point{}) {
		size = req.Condition.Bounds().Size()
	}
	shade := uint8(40 * len(g.requests))
	img := SolidFrame(size.X, size.Y, color.RGBA{R: shade, G: 100, B: 200 - shade/2, A: 255})
	cb := req.Condition.Bounds()
	if cb.Size() == size {
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				if r, _, _, _ := req.Condition.At(cb.Min.X+x, cb.Min.Y+y).RGBA(); r > 0x7fff {
					img.SetRGBA(x, y, color.RGBA{A: 255})
				}
			}
		}
	}
	return img, nil
}

func (g *RecordingGenerator) Requests() []decoder.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]decoder.GenerationRequest(nil), g.requests...)
}
