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
// This file decorates the Gemini model handle with request pacing so the
// captioner and the generator stay inside their per-minute quotas.
package cloud

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// NewMinuteLimiter paces calls to requestsPerMinute with a burst of one.
// A non-positive rate disables pacing.
func NewMinuteLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// RetryBackoff is the pause before the first retry; it doubles on each
// further attempt.
var RetryBackoff = 500 * time.Millisecond

// waiter is satisfied by *rate.Limiter.
type waiter interface {
	Wait(ctx context.Context) error
}

// backoff sleeps before retry number try (1-based), or returns early with
// the context's error.
func backoff(ctx context.Context, try int) error {
	delay := RetryBackoff << (try - 1)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry calls do up to MaxRetries+1 times. Every attempt waits on
// limiter, and every retry first backs off. onRetry, when set, is called
// before each retry.
func withRetry(ctx context.Context, limiter waiter, onRetry func(), do func(ctx context.Context) error) error {
	var err error
	for try := 0; ; try++ {
		if try > 0 {
			if onRetry != nil {
				onRetry()
			}
			if werr := backoff(ctx, try); werr != nil {
				return errors.Join(err, werr)
			}
		}
		if werr := limiter.Wait(ctx); werr != nil {
			return errors.Join(err, werr)
		}
		if err = do(ctx); err == nil || try >= MaxRetries || ctx.Err() != nil {
			return err
		}
	}
}

// QuotaAwareGenerativeAIModel wraps a Gemini model name and its generation
// config with a rate limiter.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             *genai.Models
	RateLimit               *rate.Limiter
}

// NewQuotaAwareModel returns a paced model.
//
// Inputs:
//   - config: Generation parameters sent with every request.
//   - name: The model name, e.g. "gemini-2.0-flash".
//   - handle: The Models service of a genai client.
//   - requestsPerMinute: Quota to stay under; <= 0 disables pacing.
func NewQuotaAwareModel(config *genai.GenerateContentConfig, name string, handle *genai.Models, requestsPerMinute int) *QuotaAwareGenerativeAIModel {
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: config,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               NewMinuteLimiter(requestsPerMinute),
	}
}

// GenerateContent waits for a token (or ctx) and then calls the model once.
// Retries are the caller's concern, see GenerateMultiModalResponse.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}
