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

// Package model defines the data contracts that flow between the pipeline
// stages. This file, `transient.go`, holds the in-memory structures that only
// live for the duration of one experiment run: the decoded clip, the semantic
// package produced by the encoder and the transmission report produced by the
// channel simulator. None of these are persisted as-is; see `persistent.go`
// for the rows written to the experiment ledger and BigQuery.
package model

import (
	"fmt"
	"image"
	"image/draw"
	"time"
)

// FrameChannels is the channel depth of every frame handled by the pipeline.
// Frames are held as *image.RGBA with an opaque alpha channel, so only the
// three colour channels carry information.
const FrameChannels = 3

// Shape is the (height, width, channels) geometry of a frame.
type Shape struct {
	Height   int `json:"height" yaml:"height" msgpack:"h"`
	Width    int `json:"width" yaml:"width" msgpack:"w"`
	Channels int `json:"channels" yaml:"channels" msgpack:"c"`
}

// String renders the shape the way frame arrays are usually described (HxWxC).
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// ShapeOf returns the geometry of a single frame.
func ShapeOf(img image.Image) Shape {
	b := img.Bounds()
	return Shape{Height: b.Dy(), Width: b.Dx(), Channels: FrameChannels}
}

// FrameSequence is one clip: an ordered list of RGB frames that all share the
// same geometry. It is created by the frame store, consumed by the encoder and
// recreated by the decoder.
type FrameSequence []*image.RGBA

// Validate enforces the sequence invariants: at least one frame, and every
// frame with the same shape as the first one.
func (s FrameSequence) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: frame sequence has no frames", ErrEmptySequence)
	}
	want := ShapeOf(s[0])
	for i, f := range s {
		if f == nil {
			return fmt.Errorf("frame %d is nil", i)
		}
		if got := ShapeOf(f); got != want {
			return fmt.Errorf("frame %d has shape %s, expected %s", i, got, want)
		}
	}
	return nil
}

// Shape returns the geometry shared by all frames. It returns the zero Shape
// for an empty sequence.
func (s FrameSequence) Shape() Shape {
	if len(s) == 0 {
		return Shape{}
	}
	return ShapeOf(s[0])
}

// CloneFrame returns a deep copy of img as an *image.RGBA anchored at (0,0).
func CloneFrame(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// SemanticPackage is what the sender puts on the channel: one description for
// the whole clip and one structure (edge) frame per source frame.
//
// The channel simulator may replace Description once to model perturbation;
// nothing else mutates a package after the encoder returns it.
type SemanticPackage struct {
	Description     string        // Caption of the central frame plus the quality suffix.
	StructureStream []*image.RGBA // Per-frame edge maps, R=G=B in {0,255}.
	SourceShape     Shape         // Geometry of the frames the package was extracted from.
}

// Validate checks the package invariants.
func (p *SemanticPackage) Validate() error {
	if p == nil || len(p.StructureStream) == 0 {
		return fmt.Errorf("%w: semantic package has an empty structure stream", ErrEmptySequence)
	}
	return nil
}

// TransmissionReport is the channel simulator's measurement of a package.
// It is read-only once produced.
type TransmissionReport struct {
	Description         string        // Description as received (after any perturbation).
	StructureStream     []*image.RGBA // Structure frames handed to the decoder.
	AchievedBitrateKbps float64       // Total bits over clip duration, in kbit/s.
	DescriptionBits     int           // Bits spent on the UTF-8 description, once per clip.
	StructureBits       int           // Bits spent on all compressed structure frames.
	TotalBits           int           // DescriptionBits + StructureBits.
	FrameCount          int           // Number of structure frames measured.
	Duration            time.Duration // FrameCount / frame rate.
}

// TotalKilobytes is the payload size in KiB, as printed in channel reports.
func (r *TransmissionReport) TotalKilobytes() float64 {
	return float64(r.TotalBits) / 8 / 1024
}
