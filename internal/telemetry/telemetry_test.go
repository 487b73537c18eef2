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

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestLogHandlerFansOut(t *testing.T) {
	var console, file bytes.Buffer
	logger := slog.New(NewLogHandler(&console, &file, slog.LevelInfo))
	logger.Warn("anchor scored", "bitrate_kbps", 50)
	logger.Debug("hidden")

	assert.Contains(t, console.String(), "anchor scored")
	assert.NotContains(t, console.String(), "hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "WARNING", entry["severity"])
	assert.Equal(t, "anchor scored", entry["message"])
	assert.Contains(t, entry, "timestamp")
	assert.Equal(t, 50.0, entry["bitrate_kbps"])
}

func TestLogHandlerAddsSpanContext(t *testing.T) {
	shutdown, err := SetupOpenTelemetry(context.Background(), cloud.NewConfig())
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	var file bytes.Buffer
	logger := slog.New(NewLogHandler(&bytes.Buffer{}, &file, slog.LevelInfo))
	ctx, span := otel.Tracer("test").Start(context.Background(), "stage")
	logger.With("stage", "load-frames").InfoContext(ctx, "inside span")
	span.End()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["logging.googleapis.com/trace"])
	assert.Equal(t, "load-frames", entry["stage"])
}

func TestLogHandlerConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	slog.New(NewLogHandler(&console, nil, slog.LevelDebug)).Debug("visible")
	assert.Contains(t, console.String(), "visible")
}
