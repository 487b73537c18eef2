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

// Package encoder is the sender side of the semantic pipeline. It reduces a
// clip to a SemanticPackage: one natural-language description captioned from
// the central frame, and one binary edge map per frame that carries the
// scene's structure.
package encoder

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
)

// QualitySuffix is appended to every caption to steer the receiver's
// generator toward a clean, photographic rendition.
const QualitySuffix = ", masterpiece, best quality, 4k, realistic, cinematic lighting"

// Captioner produces a short description of a single frame.
type Captioner interface {
	Caption(ctx context.Context, frame image.Image) (string, error)
}

// Encoder turns frames into a semantic package.
type Encoder struct {
	captioner Captioner
	cannyLow  float64
	cannyHigh float64
	suffix    string
}

// Option customises an Encoder.
type Option func(*Encoder)

// WithCannyThresholds overrides the hysteresis thresholds used for structure
// extraction.
func WithCannyThresholds(low, high float64) Option {
	return func(e *Encoder) {
		e.cannyLow, e.cannyHigh = low, high
	}
}

// WithQualitySuffix replaces the suffix appended to captions.
func WithQualitySuffix(suffix string) Option {
	return func(e *Encoder) {
		e.suffix = suffix
	}
}

// New returns an Encoder backed by captioner.
func New(captioner Captioner, opts ...Option) *Encoder {
	e := &Encoder{
		captioner: captioner,
		cannyLow:  imaging.DefaultCannyLow,
		cannyHigh: imaging.DefaultCannyHigh,
		suffix:    QualitySuffix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractDescription captions frame and appends the quality suffix.
func (e *Encoder) ExtractDescription(ctx context.Context, frame image.Image) (string, error) {
	caption, err := e.captioner.Caption(ctx, frame)
	if err != nil {
		return "", fmt.Errorf("captioning frame: %w", err)
	}
	return strings.TrimSpace(caption) + e.suffix, nil
}

// ExtractStructure returns the Canny edge map of frame with the single edge
// channel replicated into R, G and B. Output dimensions equal the input's and
// every pixel is either 0 or 255.
func (e *Encoder) ExtractStructure(frame image.Image) *image.RGBA {
	return ExtractStructure(frame, e.cannyLow, e.cannyHigh)
}

// ExtractStructure is the stateless form of Encoder.ExtractStructure.
func ExtractStructure(frame image.Image, low, high float64) *image.RGBA {
	edges := imaging.Canny(imaging.Grayscale(frame), low, high)
	return imaging.ReplicateChannels(edges)
}

// Encode captions the frame at index len/2 and extracts structure from every
// frame, in order.
func (e *Encoder) Encode(ctx context.Context, frames model.FrameSequence) (*model.SemanticPackage, error) {
	if err := frames.Validate(); err != nil {
		return nil, err
	}
	central := len(frames) / 2
	slog.InfoContext(ctx, "extracting description", "frame", central, "frames", len(frames))
	description, err := e.ExtractDescription(ctx, frames[central])
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "extracted description", "description", description)

	stream := make([]*image.RGBA, len(frames))
	for i, frame := range frames {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		stream[i] = e.ExtractStructure(frame)
	}
	slog.InfoContext(ctx, "extracted structure", "frames", len(stream), "shape", frames.Shape().String())

	return &model.SemanticPackage{
		Description:     description,
		StructureStream: stream,
		SourceShape:     frames.Shape(),
	}, nil
}
