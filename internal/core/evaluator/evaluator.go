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

// Package evaluator places the semantic pipeline's output on a rate-quality
// chart next to a ladder of conventional H.264 encodings of the same clip.
//
// Logic Flow (RunEvaluation):
//  1. For every rung of the bitrate ladder, encode the ground truth at that
//     constant bitrate, score it against the ground truth, and delete it
//     before the next rung is produced.
//  2. Score the candidate reconstruction against the ground truth.
//  3. Render the curve and the candidate point to a PNG chart.
//
// Scores are mean per-frame distances from a pluggable Metric; lower is
// better.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
)

// WorstCaseDistance is reported when two clips share no comparable frames.
const WorstCaseDistance = 1.0

// DefaultLadder lists the anchor bitrates in kbit/s.
var DefaultLadder = []int{50, 100, 150, 200, 300, 400}

// VideoEncoder produces a conventional encoding of input at a target bitrate.
type VideoEncoder interface {
	Encode(ctx context.Context, input string, bitrateKbps int, output string) error
}

// Metric is a per-frame perceptual distance. Both frames have the same size;
// the result is >= 0 and 0 for identical frames.
type Metric interface {
	Distance(a, b image.Image) (float64, error)
}

// FrameLoader reads a clip from disk.
type FrameLoader interface {
	Load(ctx context.Context, source string, maxFrames int) (model.FrameSequence, error)
}

// Anchor is one conventional encoding on disk.
type Anchor struct {
	BitrateKbps int
	Path        string
}

// Evaluator wires a loader, an encoder and a metric together.
type Evaluator struct {
	loader    FrameLoader
	encoder   VideoEncoder
	metric    Metric
	ladder    []int
	workDir   string
	chartPath string
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithLadder replaces DefaultLadder.
func WithLadder(ladder []int) Option {
	return func(e *Evaluator) { e.ladder = append([]int(nil), ladder...) }
}

// WithWorkDir sets where anchors are written. Defaults to the OS temp dir.
func WithWorkDir(dir string) Option {
	return func(e *Evaluator) { e.workDir = dir }
}

// WithChartPath sets the chart destination; empty disables rendering.
func WithChartPath(path string) Option {
	return func(e *Evaluator) { e.chartPath = path }
}

// New returns an Evaluator. A nil metric selects imaging.DSSIM.
func New(loader FrameLoader, encoder VideoEncoder, metric Metric, opts ...Option) *Evaluator {
	if metric == nil {
		metric = imaging.DSSIM{}
	}
	e := &Evaluator{
		loader:    loader,
		encoder:   encoder,
		metric:    metric,
		ladder:    DefaultLadder,
		workDir:   os.TempDir(),
		chartPath: DefaultChartPath,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) anchorPath(kbps int) string {
	return filepath.Join(e.workDir, fmt.Sprintf("anchor_%dk.mp4", kbps))
}

// GenerateCodecAnchors encodes source once per rung and returns the anchors
// in ladder order. The caller owns the files. On error every anchor written
// so far is removed.
func (e *Evaluator) GenerateCodecAnchors(ctx context.Context, source string, ladder []int) ([]Anchor, error) {
	anchors := make([]Anchor, 0, len(ladder))
	for _, kbps := range ladder {
		a, err := e.generateAnchor(ctx, source, kbps)
		if err != nil {
			for _, done := range anchors {
				_ = os.Remove(done.Path)
			}
			return nil, err
		}
		anchors = append(anchors, a)
	}
	return anchors, nil
}

func (e *Evaluator) generateAnchor(ctx context.Context, source string, kbps int) (Anchor, error) {
	if kbps <= 0 {
		return Anchor{}, fmt.Errorf("invalid anchor bitrate %d kbps", kbps)
	}
	path := e.anchorPath(kbps)
	if err := e.encoder.Encode(ctx, source, kbps, path); err != nil {
		_ = os.Remove(path)
		return Anchor{}, fmt.Errorf("anchor %d kbps: %w", kbps, err)
	}
	return Anchor{BitrateKbps: kbps, Path: path}, nil
}

// PerceptualDistance is the mean metric distance between index-paired frames
// of clips a and b. Only the first min(len(a), len(b)) frames are compared;
// frames of b are resized to a's size first. Clips with no pairable frames
// score WorstCaseDistance.
func (e *Evaluator) PerceptualDistance(ctx context.Context, a, b string) (float64, error) {
	framesA, err := e.load(ctx, a)
	if err != nil {
		return 0, err
	}
	framesB, err := e.load(ctx, b)
	if err != nil {
		return 0, err
	}
	return e.SequenceDistance(ctx, framesA, framesB)
}

// SequenceDistance is PerceptualDistance over frames already in memory.
func (e *Evaluator) SequenceDistance(ctx context.Context, a, b model.FrameSequence) (float64, error) {
	n := min(len(a), len(b))
	if n == 0 {
		slog.WarnContext(ctx, "no frames to compare", "a", len(a), "b", len(b))
		return WorstCaseDistance, nil
	}
	if len(a) != len(b) {
		slog.WarnContext(ctx, "clip lengths differ; comparing common prefix", "a", len(a), "b", len(b), "paired", n)
	}
	var total float64
	for i := 0; i < n; i++ {
		fa, fb := a[i], b[i]
		if fa.Bounds().Size() != fb.Bounds().Size() {
			fb = imaging.ResizeBilinear(fb, fa.Bounds().Dx(), fa.Bounds().Dy())
		}
		d, err := e.metric.Distance(fa, fb)
		if err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
		total += d
	}
	return total / float64(n), nil
}

// load treats a clip with no decodable frames as empty rather than failing.
func (e *Evaluator) load(ctx context.Context, path string) (model.FrameSequence, error) {
	frames, err := e.loader.Load(ctx, path, 0)
	if errors.Is(err, model.ErrEmptySequence) {
		return nil, nil
	}
	return frames, err
}

// RunEvaluation scores every anchor rung and the candidate against
// groundTruth. At most one anchor exists on disk at any time and none remain
// when it returns.
func (e *Evaluator) RunEvaluation(ctx context.Context, groundTruth, candidate string, candidateKbps float64) (*model.RateQualityCurve, error) {
	reference, err := e.load(ctx, groundTruth)
	if err != nil {
		return nil, fmt.Errorf("ground truth: %w", err)
	}

	curve := &model.RateQualityCurve{}
	for _, kbps := range e.ladder {
		point, err := e.scoreAnchor(ctx, groundTruth, reference, kbps)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "anchor scored", "bitrate_kbps", kbps, "distortion", point.Distortion)
		curve.AddAnchor(point)
	}

	generated, err := e.load(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("candidate: %w", err)
	}
	d, err := e.SequenceDistance(ctx, reference, generated)
	if err != nil {
		return nil, fmt.Errorf("candidate: %w", err)
	}
	curve.Candidate = model.RatePoint{Label: CandidateLabel, BitrateKbps: candidateKbps, Distortion: d}
	slog.InfoContext(ctx, "candidate scored", "bitrate_kbps", candidateKbps, "distortion", d)

	if e.chartPath != "" {
		if err = RenderChart(curve, e.chartPath); err != nil {
			return curve, fmt.Errorf("rendering chart: %w", err)
		}
		slog.InfoContext(ctx, "chart written", "path", e.chartPath)
	}
	return curve, nil
}

func (e *Evaluator) scoreAnchor(ctx context.Context, groundTruth string, reference model.FrameSequence, kbps int) (model.RatePoint, error) {
	anchor, err := e.generateAnchor(ctx, groundTruth, kbps)
	if err != nil {
		return model.RatePoint{}, err
	}
	defer func() {
		if rmErr := os.Remove(anchor.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.WarnContext(ctx, "failed to remove anchor", "path", anchor.Path, "error", rmErr)
		}
	}()

	frames, err := e.load(ctx, anchor.Path)
	if err != nil {
		return model.RatePoint{}, fmt.Errorf("anchor %d kbps: %w", kbps, err)
	}
	d, err := e.SequenceDistance(ctx, reference, frames)
	if err != nil {
		return model.RatePoint{}, fmt.Errorf("anchor %d kbps: %w", kbps, err)
	}
	return model.RatePoint{Label: AnchorLabel, BitrateKbps: float64(kbps), Distortion: d}, nil
}
