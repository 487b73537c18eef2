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
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	aistudio "github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const meterName = "github.com/jaycherian/gencomm-video"

func encodePNG(frame image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, fmt.Errorf("encoding frame as png: %w", err)
	}
	return buf.Bytes(), nil
}

// tidyCaption drops surrounding whitespace and a trailing full stop so the
// quality suffix reads as one phrase.
func tidyCaption(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// GeminiCaptioner captions frames with a Gemini model on Vertex AI.
type GeminiCaptioner struct {
	model        *QuotaAwareGenerativeAIModel
	prompt       string
	timeout      time.Duration
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	retries      metric.Int64Counter
}

// NewGeminiCaptioner wraps a paced Vertex AI model. prompt is sent with every
// frame and timeout bounds one call, retries included.
func NewGeminiCaptioner(model *QuotaAwareGenerativeAIModel, prompt string, timeout time.Duration) *GeminiCaptioner {
	meter := otel.Meter(meterName)
	in, _ := meter.Int64Counter("captioner.token.input")
	out, _ := meter.Int64Counter("captioner.token.output")
	retry, _ := meter.Int64Counter("captioner.retry")
	return &GeminiCaptioner{model: model, prompt: prompt, timeout: timeout, inputTokens: in, outputTokens: out, retries: retry}
}

// Caption sends frame as a PNG part followed by the prompt and returns the
// tidied reply.
func (c *GeminiCaptioner) Caption(ctx context.Context, frame image.Image) (string, error) {
	data, err := encodePNG(frame)
	if err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, "image/png"),
		genai.NewPartFromText(c.prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	text, err := GenerateMultiModalResponse(ctx, c.inputTokens, c.outputTokens, c.retries, 0, c.model, contents)
	if err != nil {
		return "", err
	}
	return tidyCaption(text), nil
}

// AIStudioCaptioner captions frames through the Gemini API with an API key,
// for runs outside a Google Cloud project.
type AIStudioCaptioner struct {
	model   *aistudio.GenerativeModel
	prompt  string
	timeout time.Duration
	limiter waiter
}

// NewAIStudioCaptioner builds a captioner on the Gemini API.
//
// Inputs:
//   - client: An AI Studio client authenticated with an API key.
//   - settings: Model name, sampling parameters and the per-minute quota.
//   - prompt: The captioning instruction sent with every frame.
//   - timeout: Per-attempt deadline; zero means none.
func NewAIStudioCaptioner(client *aistudio.Client, settings VertexAiLLMModel, prompt string, timeout time.Duration) *AIStudioCaptioner {
	m := client.GenerativeModel(settings.Model)
	m.SetTemperature(settings.Temperature)
	m.SetTopP(settings.TopP)
	m.SetTopK(int32(settings.TopK))
	if settings.MaxTokens > 0 {
		m.SetMaxOutputTokens(settings.MaxTokens)
	}
	if settings.SystemInstructions != "" {
		m.SystemInstruction = aistudio.NewUserContent(aistudio.Text(settings.SystemInstructions))
	}
	return &AIStudioCaptioner{model: m, prompt: prompt, timeout: timeout, limiter: NewMinuteLimiter(settings.RateLimit)}
}

// Caption describes frame in one sentence. Every attempt is paced by the
// model's quota and retries back off, see withRetry.
func (c *AIStudioCaptioner) Caption(ctx context.Context, frame image.Image) (string, error) {
	data, err := encodePNG(frame)
	if err != nil {
		return "", err
	}
	var resp *aistudio.GenerateContentResponse
	err = withRetry(ctx, c.limiter, nil, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		resp, callErr = c.model.GenerateContent(callCtx, aistudio.ImageData("png", data), aistudio.Text(c.prompt))
		return callErr
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(aistudio.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model returned no caption")
	}
	return tidyCaption(sb.String()), nil
}

// StaticCaptioner returns the same caption for every frame.
type StaticCaptioner struct {
	Text string
}

// Caption returns Text, or an error when none is configured.
func (c StaticCaptioner) Caption(_ context.Context, _ image.Image) (string, error) {
	if strings.TrimSpace(c.Text) == "" {
		return "", fmt.Errorf("static captioner has no caption configured")
	}
	return c.Text, nil
}
