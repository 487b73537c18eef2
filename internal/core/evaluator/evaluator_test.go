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

package evaluator

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
	test "github.com/jaycherian/gencomm-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore serves clips from memory and checks that the files it is asked
// about exist on disk.
type memoryStore struct {
	mu    sync.Mutex
	clips map[string]model.FrameSequence
	// peak number of anchor files present at once
	live, peak int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{clips: map[string]model.FrameSequence{}}
}

func (m *memoryStore) put(path string, seq model.FrameSequence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[path] = seq
}

func (m *memoryStore) Load(_ context.Context, source string, _ int) (model.FrameSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceNotFound, source)
	}
	seq, ok := m.clips[source]
	if !ok || len(seq) == 0 {
		return nil, model.ErrEmptySequence
	}
	return seq, nil
}

// degradingEncoder writes a placeholder file and registers a copy of the
// input whose frames are blurred more at lower bitrates.
type degradingEncoder struct {
	store *memoryStore
	dir   string
}

func (d *degradingEncoder) Encode(ctx context.Context, input string, kbps int, output string) error {
	src, err := d.store.Load(ctx, input, 0)
	if err != nil {
		return err
	}
	entries, _ := filepath.Glob(filepath.Join(d.dir, "anchor_*"))
	d.store.mu.Lock()
	d.store.live = len(entries) + 1
	d.store.peak = max(d.store.peak, d.store.live)
	d.store.mu.Unlock()

	factor := max(1, 400/kbps)
	out := make(model.FrameSequence, len(src))
	for i, f := range src {
		w, h := f.Bounds().Dx(), f.Bounds().Dy()
		small := imaging.ResizeBilinear(f, max(1, w/factor), max(1, h/factor))
		out[i] = imaging.ResizeBilinear(small, w, h)
	}
	d.store.put(output, out)
	return os.WriteFile(output, []byte("anchor"), 0o644)
}

func writeClip(t *testing.T, store *memoryStore, path string, seq model.FrameSequence) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))
	store.put(path, seq)
}

func TestPerceptualDistanceSelfIsZero(t *testing.T) {
	dir := t.TempDir()
	store := newMemoryStore()
	gt := filepath.Join(dir, "gt.mp4")
	writeClip(t, store, gt, test.SyntheticClip(4, 32, 24))

	ev := New(store, nil, nil)
	d, err := ev.PerceptualDistance(context.Background(), gt, gt)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestPerceptualDistancePairsCommonPrefixAndResizes(t *testing.T) {
	dir := t.TempDir()
	store := newMemoryStore()
	clip := test.SyntheticClip(6, 32, 24)
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	writeClip(t, store, a, clip)

	// b: first three frames upscaled, so only resampling error remains
	bigger := make(model.FrameSequence, 3)
	for i := range bigger {
		bigger[i] = imaging.ResizeNearest(clip[i], 64, 48)
	}
	writeClip(t, store, b, bigger)

	ev := New(store, nil, nil)
	d, err := ev.PerceptualDistance(context.Background(), a, b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, 0.0)
	assert.Less(t, d, 0.1)
}

func TestPerceptualDistanceEmptyIsWorstCase(t *testing.T) {
	dir := t.TempDir()
	store := newMemoryStore()
	a := filepath.Join(dir, "a.mp4")
	empty := filepath.Join(dir, "empty.mp4")
	writeClip(t, store, a, test.SyntheticClip(2, 8, 8))
	writeClip(t, store, empty, nil)

	d, err := New(store, nil, nil).PerceptualDistance(context.Background(), a, empty)
	require.NoError(t, err)
	assert.Equal(t, WorstCaseDistance, d)
}

func TestPerceptualDistanceMissingFile(t *testing.T) {
	store := newMemoryStore()
	_, err := New(store, nil, nil).PerceptualDistance(context.Background(), "/does/not/exist.mp4", "/nope.mp4")
	assert.ErrorIs(t, err, model.ErrSourceNotFound)
}

func TestRunEvaluation(t *testing.T) {
	dir := t.TempDir()
	store := newMemoryStore()
	gt := filepath.Join(dir, "gt.mp4")
	cand := filepath.Join(dir, "candidate.mp4")
	clip := test.SyntheticClip(3, 48, 32)
	writeClip(t, store, gt, clip)
	writeClip(t, store, cand, test.SyntheticClip(3, 48, 32)[1:])

	chart := filepath.Join(dir, "result_plot.png")
	ev := New(store, &degradingEncoder{store: store, dir: dir}, nil,
		WithWorkDir(dir),
		WithChartPath(chart))
	curve, err := ev.RunEvaluation(context.Background(), gt, cand, 42.5)
	require.NoError(t, err)

	require.Len(t, curve.Anchors, len(DefaultLadder))
	for i, a := range curve.Anchors {
		assert.Equal(t, float64(DefaultLadder[i]), a.BitrateKbps)
		assert.GreaterOrEqual(t, a.Distortion, 0.0)
	}
	// the 400 kbps rung is lossless in this fake
	assert.Equal(t, 0.0, curve.Anchors[len(curve.Anchors)-1].Distortion)
	assert.Equal(t, 42.5, curve.Candidate.BitrateKbps)
	assert.Equal(t, CandidateLabel, curve.Candidate.Label)

	assert.Equal(t, 1, store.peak, "anchors must be produced one at a time")
	left, _ := filepath.Glob(filepath.Join(dir, "anchor_*"))
	assert.Empty(t, left)

	info, err := os.Stat(chart)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

type failingEncoder struct{ after int }

func (f *failingEncoder) Encode(_ context.Context, _ string, _ int, output string) error {
	if f.after == 0 {
		return fmt.Errorf("encoder crashed")
	}
	f.after--
	return os.WriteFile(output, []byte("anchor"), 0o644)
}

func TestGenerateCodecAnchorsCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	ev := New(newMemoryStore(), &failingEncoder{after: 2}, nil, WithWorkDir(dir))
	_, err := ev.GenerateCodecAnchors(context.Background(), "in.mp4", []int{50, 100, 150})
	assert.Error(t, err)
	left, _ := filepath.Glob(filepath.Join(dir, "anchor_*"))
	assert.Empty(t, left)
}

func TestGenerateCodecAnchors(t *testing.T) {
	dir := t.TempDir()
	ev := New(newMemoryStore(), &failingEncoder{after: 10}, nil, WithWorkDir(dir))
	anchors, err := ev.GenerateCodecAnchors(context.Background(), "in.mp4", []int{50, 100})
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.Equal(t, 50, anchors[0].BitrateKbps)
	assert.FileExists(t, anchors[1].Path)
}

func TestRenderChartWithoutAnchors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "only_candidate.png")
	err := RenderChart(&model.RateQualityCurve{Candidate: model.RatePoint{BitrateKbps: 10, Distortion: 0.3}}, path)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSequenceDistanceUsesMetric(t *testing.T) {
	a := model.FrameSequence{test.SolidFrame(4, 4, test.SyntheticClip(1, 4, 4)[0].RGBAAt(0, 0))}
	b := model.FrameSequence{image.NewRGBA(image.Rect(0, 0, 2, 2))}
	d, err := New(nil, nil, constantMetric(0.25)).SequenceDistance(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.25, d)
}

type constantMetric float64

func (c constantMetric) Distance(a, b image.Image) (float64, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 0, fmt.Errorf("size mismatch")
	}
	return float64(c), nil
}
