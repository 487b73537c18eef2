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

package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/channel"
	"github.com/jaycherian/gencomm-video/internal/core/commands"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/jaycherian/gencomm-video/internal/core/encoder"
	"github.com/jaycherian/gencomm-video/internal/core/evaluator"
	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/ledger"
	test "github.com/jaycherian/gencomm-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newContext(run *model.ExperimentRun) cor.Context {
	ctx := cor.NewBaseContext()
	ctx.SetContext(context.Background())
	if run != nil {
		ctx.Add(commands.ParamRun, run)
	}
	return ctx
}

func TestUploadTriggerReader(t *testing.T) {
	ctx := newContext(nil)
	ctx.Add(cor.CtxIn, test.GetTestUploadMessageText())
	cmd := commands.NewUploadTriggerReader("upload-trigger-reader")
	require.True(t, cmd.IsExecutable(ctx))
	cmd.Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Equal(t, "gs://gencomm_input_clips/test-clip-001.mp4", ctx.Get(commands.ParamSourceURI))
	obj := ctx.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject)
	assert.Equal(t, "video/mp4", obj.MIMEType)

	bad := newContext(nil)
	bad.Add(cor.CtxIn, "{")
	cmd.Execute(bad)
	assert.Contains(t, bad.GetErrors(), "upload-trigger-reader")
}

func TestSourceResolverLocal(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("x"), 0o644))
	cmd := commands.NewSourceResolver("source-resolver", nil, "gencomm-")

	ctx := newContext(nil)
	ctx.Add(commands.ParamSourceURI, clip)
	cmd.Execute(ctx)
	require.False(t, ctx.HasErrors())
	assert.Equal(t, clip, ctx.Get(commands.ParamSourcePath))

	missing := newContext(nil)
	missing.Add(commands.ParamSourceURI, filepath.Join(t.TempDir(), "nope.mp4"))
	cmd.Execute(missing)
	assert.ErrorIs(t, missing.GetErrors()["source-resolver"], model.ErrSourceNotFound)

	remote := newContext(nil)
	remote.Add(commands.ParamSourceURI, "gs://bucket/clip.mp4")
	cmd.Execute(remote)
	assert.ErrorIs(t, remote.GetErrors()["source-resolver"], cloud.ErrNoCloud)
}

// pipeline builds the frame-to-curve commands over an in-memory store.
func pipeline(t *testing.T, store *test.MemoryFrameStore, gen decoder.Generator) (cor.Chain, string) {
	dir := t.TempDir()
	chart := filepath.Join(dir, "chart.png")
	eval := evaluator.New(store, test.QuantizingEncoder{Store: store}, nil,
		evaluator.WithLadder([]int{50, 400}),
		evaluator.WithWorkDir(dir),
		evaluator.WithChartPath(chart))

	chain := cor.NewBaseChain("experiment")
	chain.AddCommand(commands.NewLoadFrames("load-frames", store, 8, 0))
	chain.AddCommand(commands.NewSemanticEncode("semantic-encode", encoder.New(&test.FakeCaptioner{Text: "a bright square"})))
	chain.AddCommand(commands.NewChannelSimulate("channel-simulate", channel.NewSimulator(), 30))
	chain.AddCommand(commands.NewGenerativeDecode("generative-decode", decoder.New(gen, decoder.DefaultSettings())))
	chain.AddCommand(commands.NewSaveReconstruction("save-reconstruction", store,
		filepath.Join(dir, "out.mp4"), filepath.Join(dir, "gt.mp4"), 30))
	chain.AddCommand(commands.NewRateQualityEvaluate("rate-quality-evaluate", eval, chart))
	return chain, dir
}

func TestExperimentStages(t *testing.T) {
	store := test.NewMemoryFrameStore()
	store.Put("clip.mp4", test.SyntheticClip(12, 64, 48))
	chain, dir := pipeline(t, store, &test.RecordingGenerator{})

	run := model.NewExperimentRun("clip.mp4")
	ctx := newContext(run)
	defer ctx.Close()
	ctx.Add(commands.ParamSourcePath, "clip.mp4")
	chain.Execute(ctx)
	require.False(t, ctx.HasErrors(), "%v", ctx.GetErrors())

	assert.Equal(t, "48x64x3", run.Shape)
	assert.Equal(t, 8, run.FrameCount)
	assert.Equal(t, "a bright square"+encoder.QualitySuffix, run.Description)
	assert.Equal(t, 2, run.Generations)
	assert.Equal(t, 6, run.ReusedFrames)
	assert.Equal(t, int64(decoder.DefaultSeed), run.Seed)
	assert.Greater(t, run.AchievedBitrateKbps, 0.0)
	assert.Len(t, run.Anchors, 2)
	assert.Equal(t, filepath.Join(dir, "out.mp4"), run.Reconstruction)

	gt, ok := store.Clip(filepath.Join(dir, "gt.mp4"))
	require.True(t, ok)
	assert.Len(t, gt, 8)
	assert.Contains(t, ctx.GetTempFiles(), filepath.Join(dir, "gt.mp4"))
	assert.FileExists(t, filepath.Join(dir, "chart.png"))

	curve := ctx.Get(commands.ParamCurve).(*model.RateQualityCurve)
	assert.LessOrEqual(t, curve.Anchors[1].Distortion, curve.Anchors[0].Distortion)
}

func TestExperimentStagesReportFailingStage(t *testing.T) {
	store := test.NewMemoryFrameStore()
	store.Put("clip.mp4", test.SyntheticClip(4, 32, 24))
	chain, _ := pipeline(t, store, &test.RecordingGenerator{Err: test.ErrGeneratorFailed})

	run := model.NewExperimentRun("clip.mp4")
	ctx := newContext(run)
	ctx.Add(commands.ParamSourcePath, "clip.mp4")
	chain.Execute(ctx)

	require.Equal(t, []string{"generative-decode"}, ctx.ErrorKeys())
	assert.ErrorIs(t, ctx.GetErrors()["generative-decode"], test.ErrGeneratorFailed)
	assert.Nil(t, ctx.Get(commands.ParamCurve))
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	run := model.NewExperimentRun("clip.mp4")
	run.Description = "a bright square"
	run.Anchors = []model.RatePoint{{Label: "H.264", BitrateKbps: 50, Distortion: 0.2}}
	run.Finish(nil)

	ctx := newContext(run)
	cmd := commands.NewWriteReport("write-report", path)
	require.True(t, cmd.IsExecutable(ctx))
	cmd.Execute(ctx)
	require.False(t, ctx.HasErrors())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back model.ExperimentRun
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, run.Id, back.Id)
	assert.Equal(t, model.RunSucceeded, back.Status)
	assert.Equal(t, run.Anchors, back.Anchors)

	assert.False(t, commands.NewWriteReport("write-report", "").IsExecutable(ctx))
}

func TestPersistLedger(t *testing.T) {
	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer l.Close()

	run := model.NewExperimentRun("clip.mp4")
	ctx := newContext(run)
	cmd := commands.NewPersistLedger("persist-ledger", l)
	cmd.Execute(ctx)
	require.False(t, ctx.HasErrors())

	got, err := l.Get(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", got.Source)

	assert.False(t, commands.NewPersistLedger("persist-ledger", nil).IsExecutable(ctx))
}

func TestCloudRecordersSkipWithoutClients(t *testing.T) {
	run := model.NewExperimentRun("clip.mp4")
	run.Finish(nil)
	ctx := newContext(run)
	assert.False(t, commands.NewUploadArtifacts("upload-artifacts", nil, "bucket", "runs").IsExecutable(ctx))
	assert.False(t, commands.NewPersistToBigQuery("persist-to-bigquery", nil, "ds", "runs").IsExecutable(ctx))
}

func TestUploadArtifactsObjectName(t *testing.T) {
	run := model.NewExperimentRun("clip.mp4")
	cmd := commands.NewUploadArtifacts("upload-artifacts", nil, "bucket", "runs")
	assert.Equal(t, "runs/"+run.Id+"/out.mp4", cmd.ObjectName(run, "/tmp/x/out.mp4"))
}

func TestFrameRateFollowsSource(t *testing.T) {
	store := test.NewMemoryFrameStore()
	store.Put("clip.mp4", test.SyntheticClip(8, 32, 24))
	store.SetFrameRate("clip.mp4", 25)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")

	chain := cor.NewBaseChain("experiment")
	chain.AddCommand(commands.NewLoadFrames("load-frames", store, 8, 0))
	chain.AddCommand(commands.NewSemanticEncode("semantic-encode", encoder.New(&test.FakeCaptioner{Text: "a bright square"})))
	chain.AddCommand(commands.NewChannelSimulate("channel-simulate", channel.NewSimulator(), commands.DefaultFrameRate))
	chain.AddCommand(commands.NewGenerativeDecode("generative-decode", decoder.New(&test.RecordingGenerator{}, decoder.DefaultSettings())))
	chain.AddCommand(commands.NewSaveReconstruction("save-reconstruction", store,
		out, filepath.Join(dir, "gt.mp4"), commands.DefaultFrameRate))

	run := model.NewExperimentRun("clip.mp4")
	ctx := newContext(run)
	defer ctx.Close()
	ctx.Add(commands.ParamSourcePath, "clip.mp4")
	chain.Execute(ctx)
	require.False(t, ctx.HasErrors(), "%v", ctx.GetErrors())

	assert.Equal(t, 25.0, run.FrameRate)
	report := ctx.Get(commands.ParamTransmission).(*model.TransmissionReport)
	// 8 frames at 25 fps last 0.32 s
	assert.InDelta(t, float64(report.TotalBits)/0.32/1000, report.AchievedBitrateKbps, 1e-6)
	fps, err := store.FrameRate(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 25.0, fps)
}

func TestConfiguredFrameRateWins(t *testing.T) {
	store := test.NewMemoryFrameStore()
	store.Put("clip.mp4", test.SyntheticClip(2, 16, 16))
	store.SetFrameRate("clip.mp4", 25)

	ctx := newContext(model.NewExperimentRun("clip.mp4"))
	ctx.Add(commands.ParamSourcePath, "clip.mp4")
	commands.NewLoadFrames("load-frames", store, 0, 60).Execute(ctx)
	require.False(t, ctx.HasErrors())
	assert.Equal(t, 60.0, ctx.Get(commands.ParamFrameRate))

	unknown := newContext(nil)
	store.Put("other.mp4", test.SyntheticClip(2, 16, 16))
	unknown.Add(commands.ParamSourcePath, "other.mp4")
	commands.NewLoadFrames("load-frames", store, 0, 0).Execute(unknown)
	require.False(t, unknown.HasErrors())
	assert.Equal(t, commands.DefaultFrameRate, unknown.Get(commands.ParamFrameRate))
}
