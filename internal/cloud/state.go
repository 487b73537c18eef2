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
// This file holds ServiceClients, the container for every external client an
// experiment may need, and the factories that pick the captioner and
// generator backends named in the configuration.
//
// Logic Flow:
//  1. NewCloudServiceClients is called once at startup with the loaded Config.
//  2. When a Google project is configured, Storage, Pub/Sub, Vertex AI,
//     BigQuery and IAM clients are created, one listener per configured
//     subscription, and one paced model per agent model entry.
//  3. When the encoder uses AI Studio, a Gemini API client is created from
//     the API key in the configured environment variable.
//  4. Captioner and Generator resolve the backend names to implementations.
//
// Without a project the container is mostly empty and only the offline
// backends (static captioner, edge sketch generator) are available.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	aistudio "github.com/google/generative-ai-go/genai"
	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/jaycherian/gencomm-video/internal/core/encoder"
	"google.golang.org/api/option"
	"google.golang.org/genai"
)

// ErrNoCloud is returned when a backend needs a client that was not created.
var ErrNoCloud = errors.New("cloud client not configured")

// ServiceClients is the dependency container for external services. Any
// field may be nil when the configuration does not call for it.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	AIStudioClient  *aistudio.Client
	BiqQueryClient  *bigquery.Client
	IAMClient       *credentials.IamCredentialsClient
	PubSubListeners map[string]*PubSubListener
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close shuts down every client that was created.
func (c *ServiceClients) Close() error {
	var err error
	if c.StorageClient != nil {
		err = errors.Join(err, c.StorageClient.Close())
	}
	if c.PubsubClient != nil {
		err = errors.Join(err, c.PubsubClient.Close())
	}
	if c.AIStudioClient != nil {
		err = errors.Join(err, c.AIStudioClient.Close())
	}
	if c.BiqQueryClient != nil {
		err = errors.Join(err, c.BiqQueryClient.Close())
	}
	if c.IAMClient != nil {
		err = errors.Join(err, c.IAMClient.Close())
	}
	return err
}

// NewCloudServiceClients creates the clients the configuration calls for.
//
// Inputs:
//   - ctx: The root context.Context for the application.
//   - config: A pointer to the loaded application configuration.
//
// Outputs:
//   - *ServiceClients: The container, never nil on success.
//   - error: The first client creation failure; clients created before it are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			_ = cloud.Close()
			cloud = nil
		}
	}()

	if config.Encoder.Captioner == CaptionerAIStudio {
		key := os.Getenv(config.Encoder.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("captioner %q needs an API key in $%s", CaptionerAIStudio, config.Encoder.APIKeyEnv)
		}
		if cloud.AIStudioClient, err = aistudio.NewClient(ctx, option.WithAPIKey(key)); err != nil {
			return nil, err
		}
	}

	project := config.Application.GoogleProjectId
	if project == "" {
		slog.InfoContext(ctx, "no google project configured; cloud clients disabled")
		return cloud, nil
	}

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return nil, err
	}
	if cloud.PubsubClient, err = pubsub.NewClient(ctx, project); err != nil {
		return nil, err
	}
	cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, project); err != nil {
		return nil, err
	}
	if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
		return nil, err
	}

	// Commands are attached later, once the workflows exist.
	for key, sub := range config.TopicSubscriptions {
		listener, err := NewPubSubListener(cloud.PubsubClient, sub.Name, nil)
		if err != nil {
			return nil, err
		}
		cloud.PubSubListeners[key] = listener
	}

	for key, values := range config.AgentModels {
		generation := &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](values.Temperature),
			TopP:             genai.Ptr[float32](values.TopP),
			TopK:             genai.Ptr[float32](values.TopK),
			MaxOutputTokens:  values.MaxTokens,
			SafetySettings:   DefaultSafetySettings,
			ResponseMIMEType: values.OutputFormat,
		}
		if values.SystemInstructions != "" {
			generation.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}}
		}
		cloud.AgentModels[key] = NewQuotaAwareModel(generation, values.Model, cloud.GenAIClient.Models, values.RateLimit)
	}
	return cloud, nil
}

// Captioner returns the captioner backend named by config.Encoder.Captioner.
func (c *ServiceClients) Captioner(config *Config) (encoder.Captioner, error) {
	timeout := time.Duration(config.Encoder.TimeoutSeconds) * time.Second
	switch config.Encoder.Captioner {
	case CaptionerStatic:
		return StaticCaptioner{Text: config.Encoder.StaticCaption}, nil
	case CaptionerAIStudio:
		if c.AIStudioClient == nil {
			return nil, fmt.Errorf("%w: gemini api", ErrNoCloud)
		}
		settings, ok := config.AgentModels[config.Encoder.Model]
		if !ok {
			return nil, fmt.Errorf("unknown agent model %q", config.Encoder.Model)
		}
		return NewAIStudioCaptioner(c.AIStudioClient, settings, config.Encoder.CaptionPrompt, timeout), nil
	case CaptionerVertex, "":
		model, ok := c.AgentModels[config.Encoder.Model]
		if !ok {
			return nil, fmt.Errorf("%w: vertex model %q", ErrNoCloud, config.Encoder.Model)
		}
		return NewGeminiCaptioner(model, config.Encoder.CaptionPrompt, timeout), nil
	default:
		return nil, fmt.Errorf("unknown captioner %q", config.Encoder.Captioner)
	}
}

// Generator returns the generator backend named by config.Decoder.Generator.
func (c *ServiceClients) Generator(config *Config) (decoder.Generator, error) {
	switch config.Decoder.Generator {
	case GeneratorEdges:
		return EdgeSketchGenerator{}, nil
	case GeneratorImagen, "":
		if c.GenAIClient == nil {
			return nil, fmt.Errorf("%w: vertex ai", ErrNoCloud)
		}
		timeout := time.Duration(config.Decoder.TimeoutSeconds) * time.Second
		return NewImagenGenerator(c.GenAIClient.Models, config.Decoder.Model, config.Decoder.RateLimit, timeout), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", config.Decoder.Generator)
	}
}
