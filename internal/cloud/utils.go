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

// Package cloud provides components for interacting with Google Cloud services.
// This file contains general-purpose helpers: hierarchical configuration
// loading and a resilient wrapper for multi-modal Gemini calls.
//
// Functions:
//   - LoadConfig: Reads configs/.env.toml, then overlays the runtime-specific
//     file (.env.<runtime>.toml). Directory and runtime come from the
//     GENCOMM_CONFIG_PREFIX and GENCOMM_RUNTIME environment variables.
//   - GenerateMultiModalResponse: Calls a rate-limited model with retries and
//     records token usage and retry metrics.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/BurntSushi/toml"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GENCOMM_CONFIG_PREFIX" // directory holding the config files
	EnvConfigRuntime    = "GENCOMM_RUNTIME"       // runtime overlay, e.g. "local", "test", "prod"
	DefaultRuntime      = "test"
	MaxRetries          = 3
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// ConfigFiles returns the base and runtime overlay paths LoadConfig reads.
func ConfigFiles() (base string, overlay string) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	runtime := os.Getenv(EnvConfigRuntime)
	if runtime == "" {
		runtime = DefaultRuntime
	}
	base = prefix + ConfigFileBaseName + ConfigFileExtension
	overlay = prefix + ConfigFileBaseName + ConfigSeparator + runtime + ConfigFileExtension
	return base, overlay
}

// LoadConfig decodes the base file and then the runtime overlay into
// baseConfig. Missing files are skipped; malformed files are fatal.
//
// Inputs:
//   - baseConfig: A pointer to the configuration struct to populate. Values
//     already present (e.g. from NewConfig) survive unless a file sets them.
func LoadConfig(baseConfig interface{}) {
	base, overlay := ConfigFiles()
	for _, name := range []string{base, overlay} {
		if !fileExists(name) {
			slog.Debug("configuration file not present", "file", name)
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			log.Fatalf("failed to decode configuration file %s with error: %s", name, err)
		}
		slog.Debug("configuration file loaded", "file", name)
	}
}

// GenerateMultiModalResponse executes a multi-modal request against a Gemini
// model, retrying up to MaxRetries times.
//
// Inputs:
//   - ctx: The context for the request, which controls cancellation and tracing.
//   - inputTokenCounter, outputTokenCounter: Token usage counters.
//   - retryCounter: Counts retries.
//   - tryCount: The current attempt number (starts at 0).
//   - model: The rate-limited, quota-aware generative model to use.
//   - content: The prompt contents.
//
// Outputs:
//   - string: The concatenated text of every candidate part.
//   - error: An error if the request fails after all retries.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	tryCount int,
	model *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (value string, err error) {
	resp, err := model.GenerateContent(ctx, content)
	if err != nil {
		if tryCount < MaxRetries && ctx.Err() == nil {
			retryCounter.Add(ctx, 1)
			if werr := backoff(ctx, tryCount+1); werr != nil {
				return "", errors.Join(err, werr)
			}
			return GenerateMultiModalResponse(ctx, inputTokenCounter, outputTokenCounter, retryCounter, tryCount+1, model, content)
		}
		return "", err
	}
	if resp.UsageMetadata != nil {
		inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				sb.WriteString(part.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model %s returned no text", model.ModelName)
	}
	return sb.String(), nil
}
