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

// Package decoder is the receiver side of the semantic pipeline. It rebuilds
// a clip from a transmission report by running a structure-conditioned image
// generator on keyframes and holding the last generated frame in between.
//
// Logic Flow:
//  1. Every frame index i with i % KeyframeInterval == 0 is a keyframe. The
//     generator receives the augmented prompt, the fixed negative prompt, the
//     frame's structure map as condition and the fixed seed.
//  2. Every other index reuses the most recent generated frame unchanged.
//  3. The output clip has exactly one frame per structure frame, each with the
//     structure frame's dimensions.
//
// The running state (last output, counters) is an explicit State value that
// Step takes and returns, so the decoder itself holds no per-clip data.
package decoder

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
)

// ConsistencySuffix is appended to the received description to keep one
// identity and outfit across independently generated keyframes.
const ConsistencySuffix = ", same person throughout the entire video, consistent clothing and appearance, " +
	"same outfit, no wardrobe change, identity preserved, coherent character, continuous motion"

// DefaultNegativePrompt lists the artefacts the generator is steered away from.
const DefaultNegativePrompt = "clothes changing, different outfit, wardrobe change, identity switch, " +
	"flickering, shimmering, temporal inconsistency, morphing, mutation, deformed, ugly, extra limbs, " +
	"bad anatomy, poorly drawn face, bad proportions, blurry, low quality, overexposed, underexposed, " +
	"costume change, fashion switch, face morphing, inconsistent character"

// Generation defaults used by DefaultSettings. DefaultKeyframeInterval of 4
// generates one frame in four and reuses the last output for the rest;
// DefaultConditioningScale weights the structure map against the prompt.
const (
	DefaultSeed              = 42
	DefaultKeyframeInterval  = 4
	DefaultSteps             = 25
	DefaultGuidanceScale     = 7.5
	DefaultConditioningScale = 0.5
)

// GenerationRequest is everything a conditional generator needs for one frame.
type GenerationRequest struct {
	Prompt            string
	NegativePrompt    string
	Condition         image.Image // structure map; the output should follow its edges
	Seed              int64
	Steps             int
	ConditioningScale float64
	GuidanceScale     float64
}

// Generator synthesises one frame from a prompt and a structural condition.
// Implementations must be deterministic for a fixed seed where the backend
// allows it.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (image.Image, error)
}

// Settings are the decoder's fixed generation parameters.
type Settings struct {
	KeyframeInterval  int
	Seed              int64
	Steps             int
	GuidanceScale     float64
	ConditioningScale float64
	PromptSuffix      string
	NegativePrompt    string
	Timeout           time.Duration // per generator call, zero for none
}

// DefaultSettings returns the reference generation parameters.
func DefaultSettings() Settings {
	return Settings{
		KeyframeInterval:  DefaultKeyframeInterval,
		Seed:              DefaultSeed,
		Steps:             DefaultSteps,
		GuidanceScale:     DefaultGuidanceScale,
		ConditioningScale: DefaultConditioningScale,
		PromptSuffix:      ConsistencySuffix,
		NegativePrompt:    DefaultNegativePrompt,
	}
}

// State is the decoder's running state across frames of one clip.
type State struct {
	LastOutput  *image.RGBA
	Generations int
	Reused      int
}

// Decoder regenerates clips with a Generator.
type Decoder struct {
	generator Generator
	settings  Settings
}

// New returns a Decoder using gen and settings.
func New(gen Generator, settings Settings) *Decoder {
	return &Decoder{generator: gen, settings: settings}
}

// Settings returns the decoder's generation parameters.
func (d *Decoder) Settings() Settings {
	return d.settings
}

// AugmentPrompt appends suffix to description.
func AugmentPrompt(description, suffix string) string {
	return description + suffix
}

// IsKeyframe reports whether index is generated rather than reused.
func IsKeyframe(index, interval int) bool {
	return interval >= 1 && index%interval == 0
}

// Step produces the output frame for index and returns the updated state.
// The input state is never modified.
func (d *Decoder) Step(ctx context.Context, state State, index int, description string, condition *image.RGBA) (*image.RGBA, State, error) {
	if d.settings.KeyframeInterval < 1 {
		return nil, state, fmt.Errorf("%w: keyframe interval %d", model.ErrUninitializedReuse, d.settings.KeyframeInterval)
	}
	if !IsKeyframe(index, d.settings.KeyframeInterval) {
		if state.LastOutput == nil {
			return nil, state, fmt.Errorf("%w: frame %d", model.ErrUninitializedReuse, index)
		}
		state.Reused++
		return model.CloneFrame(state.LastOutput), state, nil
	}

	req := GenerationRequest{
		Prompt:            AugmentPrompt(description, d.settings.PromptSuffix),
		NegativePrompt:    d.settings.NegativePrompt,
		Condition:         condition,
		Seed:              d.settings.Seed,
		Steps:             d.settings.Steps,
		ConditioningScale: d.settings.ConditioningScale,
		GuidanceScale:     d.settings.GuidanceScale,
	}
	genCtx := ctx
	if d.settings.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, d.settings.Timeout)
		defer cancel()
	}
	img, err := d.generator.Generate(genCtx, req)
	if err != nil {
		return nil, state, fmt.Errorf("generating frame %d: %w", index, err)
	}

	w, h := condition.Bounds().Dx(), condition.Bounds().Dy()
	var out *image.RGBA
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		out = imaging.ResizeBilinear(img, w, h)
	} else {
		out = model.CloneFrame(img)
	}
	state.LastOutput = out
	state.Generations++
	return model.CloneFrame(out), state, nil
}

// Decode regenerates one frame per structure frame of report.
func (d *Decoder) Decode(ctx context.Context, report *model.TransmissionReport) (model.FrameSequence, State, error) {
	var state State
	if report == nil || len(report.StructureStream) == 0 {
		return nil, state, fmt.Errorf("%w: nothing to decode", model.ErrEmptySequence)
	}
	if d.settings.KeyframeInterval < 1 {
		return nil, state, fmt.Errorf("%w: keyframe interval %d", model.ErrUninitializedReuse, d.settings.KeyframeInterval)
	}

	total := len(report.StructureStream)
	keyframes := (total + d.settings.KeyframeInterval - 1) / d.settings.KeyframeInterval
	out := make(model.FrameSequence, 0, total)
	for i, condition := range report.StructureStream {
		if err := ctx.Err(); err != nil {
			return nil, state, err
		}
		if IsKeyframe(i, d.settings.KeyframeInterval) {
			slog.InfoContext(ctx, "generating keyframe", "frame", i, "keyframe", state.Generations+1, "of", keyframes)
		}
		frame, next, err := d.Step(ctx, state, i, report.Description, condition)
		if err != nil {
			return nil, state, err
		}
		state = next
		out = append(out, frame)
	}
	slog.InfoContext(ctx, "decoded clip", "frames", len(out), "generations", state.Generations, "reused", state.Reused)
	return out, state, nil
}
