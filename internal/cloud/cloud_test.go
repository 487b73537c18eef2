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
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigReferenceParameters(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, 30, c.Experiment.MaxFrames)
	assert.Zero(t, c.Experiment.FrameRate)
	assert.Equal(t, 50.0, c.Encoder.CannyLow)
	assert.Equal(t, 150.0, c.Encoder.CannyHigh)
	assert.Equal(t, 192, c.Channel.TargetWidth)
	assert.Equal(t, 4, c.Decoder.KeyframeInterval)
	assert.Equal(t, int64(42), c.Decoder.Seed)
	assert.Equal(t, []int{50, 100, 150, 200, 300, 400}, c.Evaluator.Ladder)
	assert.Contains(t, c.AgentModels, c.Encoder.Model)
}

func TestLoadConfigOverlaysRuntimeFile(t *testing.T) {
	dir := t.TempDir()
	base := "[experiment]\ninput = \"base.mp4\"\nmax_frames = 12\n"
	overlay := "[experiment]\ninput = \"overlay.mp4\"\n[decoder]\ngenerator = \"edges\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.unit.toml"), []byte(overlay), 0o644))
	t.Setenv(EnvConfigFilePrefix, dir)
	t.Setenv(EnvConfigRuntime, "unit")

	c := NewConfig()
	LoadConfig(c)
	assert.Equal(t, "overlay.mp4", c.Experiment.Input)
	assert.Equal(t, 12, c.Experiment.MaxFrames)
	assert.Equal(t, GeneratorEdges, c.Decoder.Generator)
	// untouched values keep their defaults
	assert.Equal(t, 4, c.Decoder.KeyframeInterval)
}

func TestConfigFilesDefaultRuntime(t *testing.T) {
	t.Setenv(EnvConfigFilePrefix, "configs")
	t.Setenv(EnvConfigRuntime, "")
	base, overlay := ConfigFiles()
	assert.Equal(t, filepath.Join("configs", ".env.toml"), base)
	assert.Equal(t, filepath.Join("configs", ".env.test.toml"), overlay)
}

func TestParseGCSURI(t *testing.T) {
	obj, err := ParseGCSURI("gs://clips/2024/run/test.mp4")
	require.NoError(t, err)
	assert.Equal(t, "clips", obj.Bucket)
	assert.Equal(t, "2024/run/test.mp4", obj.Name)
	assert.Equal(t, "test.mp4", obj.BaseName())
	assert.Equal(t, "gs://clips/2024/run/test.mp4", obj.URI())

	for _, bad := range []string{"test.mp4", "gs://", "gs://bucket", "gs://bucket/", "gs:///name"} {
		_, err := ParseGCSURI(bad)
		assert.ErrorIs(t, err, ErrNotGCSURI, bad)
	}
}

func TestParseNotification(t *testing.T) {
	obj, err := ParseNotification([]byte(`{"kind":"storage#object","bucket":"in","name":"a/b.mp4","contentType":"video/mp4"}`))
	require.NoError(t, err)
	assert.Equal(t, &GCSObject{Bucket: "in", Name: "a/b.mp4", MIMEType: "video/mp4"}, obj)

	_, err = ParseNotification([]byte(`{"kind":"storage#object"}`))
	assert.Error(t, err)
	_, err = ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}

func TestTidyCaption(t *testing.T) {
	assert.Equal(t, "a red car on a wet street", tidyCaption("  a red car on a wet street.\n"))
	assert.Equal(t, "", tidyCaption(" . "))
}

func TestOfflineBackends(t *testing.T) {
	c := NewConfig()
	c.Encoder.Captioner = CaptionerStatic
	c.Encoder.StaticCaption = "a dog running on a beach"
	c.Decoder.Generator = GeneratorEdges

	clients := &ServiceClients{}
	captioner, err := clients.Captioner(c)
	require.NoError(t, err)
	text, err := captioner.Caption(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, "a dog running on a beach", text)

	gen, err := clients.Generator(c)
	require.NoError(t, err)
	cond := image.NewRGBA(image.Rect(0, 0, 6, 4))
	cond.Pix[0] = 255
	out, err := gen.Generate(context.Background(), decoder.GenerationRequest{Condition: cond})
	require.NoError(t, err)
	assert.Equal(t, cond.Bounds(), out.Bounds())
	assert.Equal(t, uint8(255), out.(*image.RGBA).Pix[0])
}

func TestCloudBackendsNeedClients(t *testing.T) {
	c := NewConfig()
	clients := &ServiceClients{}

	_, err := clients.Captioner(c)
	assert.True(t, errors.Is(err, ErrNoCloud))
	_, err = clients.Generator(c)
	assert.True(t, errors.Is(err, ErrNoCloud))

	c.Decoder.Generator = "sdxl"
	_, err = clients.Generator(c)
	assert.Error(t, err)
}

func TestStaticCaptionerRequiresText(t *testing.T) {
	_, err := StaticCaptioner{}.Caption(context.Background(), nil)
	assert.Error(t, err)
}

func TestMinuteLimiter(t *testing.T) {
	assert.True(t, NewMinuteLimiter(0).Allow())
	l := NewMinuteLimiter(60)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

type countingWaiter struct {
	waits int
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.waits++
	return ctx.Err()
}

func fastBackoff(t *testing.T) {
	saved := RetryBackoff
	RetryBackoff = time.Millisecond
	t.Cleanup(func() { RetryBackoff = saved })
}

func TestRetryPacesEveryAttempt(t *testing.T) {
	fastBackoff(t)
	w := &countingWaiter{}
	calls, retries := 0, 0
	err := withRetry(context.Background(), w, func() { retries++ }, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, w.waits)
	assert.Equal(t, 2, retries)
}

func TestRetryGivesUp(t *testing.T) {
	fastBackoff(t)
	w := &countingWaiter{}
	calls := 0
	boom := errors.New("unavailable")
	err := withRetry(context.Background(), w, nil, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, MaxRetries+1, calls)
	assert.Equal(t, MaxRetries+1, w.waits)
}

func TestRetryBacksOff(t *testing.T) {
	saved := RetryBackoff
	RetryBackoff = 20 * time.Millisecond
	t.Cleanup(func() { RetryBackoff = saved })

	calls := 0
	start := time.Now()
	_ = withRetry(context.Background(), &countingWaiter{}, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	// 20ms before the first retry, 40ms before the second
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRetryStopsOnCancelDuringBackoff(t *testing.T) {
	saved := RetryBackoff
	RetryBackoff = time.Hour
	t.Cleanup(func() { RetryBackoff = saved })

	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("unavailable")
	calls := 0
	err := withRetry(ctx, &countingWaiter{}, nil, func(context.Context) error {
		calls++
		cancel()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestImagenRejectsWideSeed(t *testing.T) {
	g := NewImagenGenerator(nil, "imagen-3.0-capability-001", 0, 0)
	req := decoder.GenerationRequest{Seed: 1 << 40, Condition: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	_, err := g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrSeedOutOfRange)
}
