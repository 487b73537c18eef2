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

package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"time"

	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/jaycherian/gencomm-video/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrSeedOutOfRange is returned for seeds the Imagen API cannot carry.
var ErrSeedOutOfRange = errors.New("seed outside the 32-bit range")

// controlReferenceID is the id the prompt uses to point at the edge map.
const controlReferenceID = 1

// ImagenPromptTemplate ties the prompt to the canny control image.
const ImagenPromptTemplate = "Generate an image aligned with the canny edge map [%d] to match the description: %s"

// ImagenGenerator renders keyframes with an Imagen capability model, using
// the structure frame as a canny control reference. Imagen exposes no
// conditioning weight, so ConditioningScale is recorded on the span only.
type ImagenGenerator struct {
	models  *genai.Models
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	calls   metric.Int64Counter
	retries metric.Int64Counter
}

// NewImagenGenerator returns a generator bound to an Imagen capability model.
//
// Inputs:
//   - models: The Models service of a Vertex AI genai client.
//   - modelName: e.g. "imagen-3.0-capability-001".
//   - requestsPerMinute: Quota to stay under; <= 0 disables pacing.
//   - timeout: Per-attempt deadline; zero means none.
func NewImagenGenerator(models *genai.Models, modelName string, requestsPerMinute int, timeout time.Duration) *ImagenGenerator {
	meter := otel.Meter(meterName)
	calls, _ := meter.Int64Counter("generator.calls")
	retries, _ := meter.Int64Counter("generator.retry")
	return &ImagenGenerator{
		models:  models,
		model:   modelName,
		timeout: timeout,
		limiter: NewMinuteLimiter(requestsPerMinute),
		calls:   calls,
		retries: retries,
	}
}

// Generate renders one frame that follows req.Condition as a canny control
// image.
//
// Inputs:
//   - ctx: Controls cancellation and carries the trace.
//   - req: Prompt, negative prompt, condition and sampling settings. Seed
//     must fit in 32 bits.
//
// Outputs:
//   - image.Image: The decoded first generated image.
//   - error: ErrSeedOutOfRange, the last API error after retries, or a
//     report that the response carried no image (with the RAI reason).
func (g *ImagenGenerator) Generate(ctx context.Context, req decoder.GenerationRequest) (image.Image, error) {
	if req.Seed < math.MinInt32 || req.Seed > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d", ErrSeedOutOfRange, req.Seed)
	}
	ctx, span := otel.Tracer(meterName).Start(ctx, "imagen-generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("seed", req.Seed),
		attribute.Int("steps", req.Steps),
		attribute.Float64("guidance_scale", req.GuidanceScale),
		attribute.Float64("conditioning_scale", req.ConditioningScale),
	)

	condition, err := encodePNG(req.Condition)
	if err != nil {
		return nil, err
	}
	ref := genai.NewControlReferenceImage(
		&genai.Image{ImageBytes: condition, MIMEType: "image/png"},
		controlReferenceID,
		&genai.ControlReferenceConfig{ControlType: genai.ControlReferenceTypeCanny},
	)
	config := &genai.EditImageConfig{
		EditMode:       genai.EditModeControlledEditing,
		NegativePrompt: req.NegativePrompt,
		NumberOfImages: 1,
		Seed:           genai.Ptr(int32(req.Seed)),
		GuidanceScale:  genai.Ptr(float32(req.GuidanceScale)),
		BaseSteps:      genai.Ptr(int32(req.Steps)),
		AddWatermark:   genai.Ptr(false), // seeds are ignored on watermarked requests
		OutputMIMEType: "image/png",
	}
	prompt := fmt.Sprintf(ImagenPromptTemplate, controlReferenceID, req.Prompt)

	var resp *genai.EditImageResponse
	err = withRetry(ctx, g.limiter, func() { g.retries.Add(ctx, 1) }, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, g.timeout)
		defer cancel()
		g.calls.Add(ctx, 1)
		var callErr error
		resp, callErr = g.models.EditImage(callCtx, g.model, prompt, []genai.ReferenceImage{ref}, config)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("imagen %s: %w", g.model, err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		reason := ""
		if len(resp.GeneratedImages) > 0 {
			reason = resp.GeneratedImages[0].RAIFilteredReason
		}
		return nil, fmt.Errorf("imagen %s returned no image %s", g.model, reason)
	}
	img, _, err := image.Decode(bytes.NewReader(resp.GeneratedImages[0].Image.ImageBytes))
	if err != nil {
		return nil, fmt.Errorf("decoding imagen output: %w", err)
	}
	return img, nil
}

// EdgeSketchGenerator returns the structure condition itself as the frame.
// It needs no service and keeps the pipeline runnable offline.
type EdgeSketchGenerator struct{}

// Generate returns a copy of req.Condition and ignores the prompt.
func (EdgeSketchGenerator) Generate(_ context.Context, req decoder.GenerationRequest) (image.Image, error) {
	if req.Condition == nil {
		return nil, fmt.Errorf("edge sketch generator needs a condition")
	}
	return model.CloneFrame(req.Condition), nil
}
