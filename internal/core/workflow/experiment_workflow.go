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

// Package workflow assembles the experiment commands into runnable
// pipelines. ExperimentWorkflow is the whole sender-channel-receiver-evaluator
// experiment; NewUploadTriggeredWorkflow prefixes it with the command that
// reads a Cloud Storage upload notification.
//
// Logic Flow:
//  1. The caller puts the source (local path or gs:// URI) into the context
//     under commands.ParamSourceURI, or a notification body under cor.CtxIn.
//  2. The experiment chain resolves the source, loads frames, encodes,
//     simulates the channel, decodes, writes the videos and evaluates. It
//     stops at the first failing stage.
//  3. The run record is closed with the outcome.
//  4. The recorder chain uploads artifacts, writes the YAML report and
//     persists the record. Recorders run even after a failure so failed runs
//     are recorded too.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/channel"
	"github.com/jaycherian/gencomm-video/internal/core/commands"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/jaycherian/gencomm-video/internal/core/encoder"
	"github.com/jaycherian/gencomm-video/internal/core/evaluator"
	"github.com/jaycherian/gencomm-video/internal/core/framestore"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// Stage names, as reported in errors.
const (
	StageSourceResolver      = "source-resolver"
	StageLoadFrames          = "load-frames"
	StageSemanticEncode      = "semantic-encode"
	StageChannelSimulate     = "channel-simulate"
	StageGenerativeDecode    = "generative-decode"
	StageSaveReconstruction  = "save-reconstruction"
	StageRateQualityEvaluate = "rate-quality-evaluate"
	StageUploadArtifacts     = "upload-artifacts"
	StageWriteReport         = "write-report"
	StagePersistLedger       = "persist-ledger"
	StagePersistToBigQuery   = "persist-to-bigquery"
	StageUploadTriggerReader = "upload-trigger-reader"
)

// StageError is a failure of one named stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageErrors joins the errors recorded on context, in the order they
// happened, as StageErrors. It returns nil when there are none.
func StageErrors(context cor.Context) error {
	var errs []error
	all := context.GetErrors()
	for _, k := range context.ErrorKeys() {
		errs = append(errs, &StageError{Stage: k, Err: all[k]})
	}
	return errors.Join(errs...)
}

// ExperimentWorkflow runs one experiment per execution. Executions are
// serialised because every run writes the same output paths and anchor
// files.
type ExperimentWorkflow struct {
	cor.BaseCommand
	config    *cloud.Config
	clients   *cloud.ServiceClients
	loader    commands.FrameLoader
	saver     commands.FrameSaver
	captioner encoder.Captioner
	generator decoder.Generator
	video     evaluator.VideoEncoder
	metric    evaluator.Metric
	runs      commands.RunStore
	perturb   func(string) string
	mu        sync.Mutex
	chain     cor.Chain
	recorders cor.Chain
}

// Option replaces one of the workflow's collaborators.
type Option func(*ExperimentWorkflow)

// WithFrameStore replaces the ffmpeg frame store.
func WithFrameStore(loader commands.FrameLoader, saver commands.FrameSaver) Option {
	return func(w *ExperimentWorkflow) { w.loader, w.saver = loader, saver }
}

// WithCaptioner replaces the configured captioner backend.
func WithCaptioner(c encoder.Captioner) Option {
	return func(w *ExperimentWorkflow) { w.captioner = c }
}

// WithGenerator replaces the configured generator backend.
func WithGenerator(g decoder.Generator) Option {
	return func(w *ExperimentWorkflow) { w.generator = g }
}

// WithVideoEncoder replaces the ffmpeg anchor encoder.
func WithVideoEncoder(v evaluator.VideoEncoder) Option {
	return func(w *ExperimentWorkflow) { w.video = v }
}

// WithMetric replaces the DSSIM metric.
func WithMetric(m evaluator.Metric) Option {
	return func(w *ExperimentWorkflow) { w.metric = m }
}

// WithRunStore records every run in store.
func WithRunStore(store commands.RunStore) Option {
	return func(w *ExperimentWorkflow) { w.runs = store }
}

// WithDescriptionChannel perturbs the description in transit.
func WithDescriptionChannel(f func(string) string) Option {
	return func(w *ExperimentWorkflow) { w.perturb = f }
}

// NewExperimentWorkflow builds the workflow from config. Backends not
// supplied through options are resolved from clients.
func NewExperimentWorkflow(config *cloud.Config, clients *cloud.ServiceClients, opts ...Option) (*ExperimentWorkflow, error) {
	if clients == nil {
		clients = &cloud.ServiceClients{}
	}
	w := &ExperimentWorkflow{
		BaseCommand: *cor.NewBaseCommand("experiment-workflow").WithParams(commands.ParamSourceURI, commands.ParamRun),
		config:      config,
		clients:     clients,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.loader == nil || w.saver == nil {
		store := framestore.New(config.Application.FFmpegPath, config.Application.FFprobePath)
		if w.loader == nil {
			w.loader = store
		}
		if w.saver == nil {
			w.saver = store
		}
	}
	var err error
	if w.captioner == nil {
		if w.captioner, err = clients.Captioner(config); err != nil {
			return nil, fmt.Errorf("captioner: %w", err)
		}
	}
	if w.generator == nil {
		if w.generator, err = clients.Generator(config); err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
	}
	if w.video == nil {
		w.video = evaluator.NewFFmpegEncoder(config.Application.FFmpegPath)
	}

	w.initializeChain()
	return w, nil
}

func (w *ExperimentWorkflow) decoderSettings() decoder.Settings {
	d := w.config.Decoder
	settings := decoder.DefaultSettings()
	settings.KeyframeInterval = d.KeyframeInterval
	settings.Seed = d.Seed
	settings.Steps = d.Steps
	settings.GuidanceScale = d.GuidanceScale
	settings.ConditioningScale = d.ConditioningScale
	settings.Timeout = time.Duration(d.TimeoutSeconds) * time.Second
	return settings
}

func (w *ExperimentWorkflow) initializeChain() {
	cfg := w.config

	enc := encoder.New(w.captioner,
		encoder.WithCannyThresholds(cfg.Encoder.CannyLow, cfg.Encoder.CannyHigh),
		encoder.WithQualitySuffix(cfg.Encoder.QualitySuffix))

	sim := channel.NewSimulator()
	sim.TargetWidth = cfg.Channel.TargetWidth
	sim.LossyStructure = cfg.Channel.LossyStructure
	sim.DescriptionChannel = w.perturb

	evalOpts := []evaluator.Option{evaluator.WithChartPath(cfg.Evaluator.Chart)}
	if len(cfg.Evaluator.Ladder) > 0 {
		evalOpts = append(evalOpts, evaluator.WithLadder(cfg.Evaluator.Ladder))
	}
	if cfg.Evaluator.WorkDir != "" {
		evalOpts = append(evalOpts, evaluator.WithWorkDir(cfg.Evaluator.WorkDir))
	}
	eval := evaluator.New(w.loader, w.video, w.metric, evalOpts...)

	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewSourceResolver(StageSourceResolver, w.clients.StorageClient, "gencomm-source-"))
	out.AddCommand(commands.NewLoadFrames(StageLoadFrames, w.loader, cfg.Experiment.MaxFrames, cfg.Experiment.FrameRate))
	out.AddCommand(commands.NewSemanticEncode(StageSemanticEncode, enc))
	out.AddCommand(commands.NewChannelSimulate(StageChannelSimulate, sim, cfg.Experiment.FrameRate))
	out.AddCommand(commands.NewGenerativeDecode(StageGenerativeDecode, decoder.New(w.generator, w.decoderSettings())))
	out.AddCommand(commands.NewSaveReconstruction(StageSaveReconstruction, w.saver,
		cfg.Experiment.Output, cfg.Experiment.GroundTruthClip, cfg.Experiment.FrameRate))
	out.AddCommand(commands.NewRateQualityEvaluate(StageRateQualityEvaluate, eval, cfg.Evaluator.Chart))
	w.chain = out

	rec := cor.NewBaseChain(w.GetName() + "-recorders").ContinueOnFailure(true)
	rec.AddCommand(commands.NewUploadArtifacts(StageUploadArtifacts, w.clients.StorageClient,
		cfg.Storage.OutputBucket, cfg.Storage.OutputPrefix))
	rec.AddCommand(commands.NewWriteReport(StageWriteReport, cfg.Experiment.Report))
	if w.runs != nil {
		rec.AddCommand(commands.NewPersistLedger(StagePersistLedger, w.runs))
	}
	rec.AddCommand(commands.NewPersistToBigQuery(StagePersistToBigQuery, w.clients.BiqQueryClient,
		cfg.BigQueryDataSource.DatasetName, cfg.BigQueryDataSource.ExperimentTable))
	w.recorders = rec
}

// Stages lists the experiment stage names in execution order.
func (w *ExperimentWorkflow) Stages() []string {
	var out []string
	for _, chain := range []cor.Chain{w.chain, w.recorders} {
		for _, c := range chain.(*cor.BaseChain).Commands() {
			out = append(out, c.GetName())
		}
	}
	return out
}

// Execute runs one experiment for the source in commands.ParamSourceURI.
// The run record is left in commands.ParamRun.
func (w *ExperimentWorkflow) Execute(context cor.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	run := commands.RunOf(context)
	if run == nil {
		source, _ := context.Get(commands.ParamSourceURI).(string)
		run = model.NewExperimentRun(source)
		context.Add(commands.ParamRun, run)
	}
	w.chain.Execute(context)
	run.Finish(StageErrors(context))
	w.recorders.Execute(context)

	if context.HasErrors() {
		w.GetErrorCounter().Add(context.GetContext(), 1)
	} else {
		w.GetSuccessCounter().Add(context.GetContext(), 1)
	}
}

// Run executes one experiment on source and removes the run's temporary
// files. The returned error joins a StageError per failed stage; the run
// record is returned either way.
func (w *ExperimentWorkflow) Run(ctx context.Context, source string) (*model.ExperimentRun, error) {
	run := model.NewExperimentRun(source)
	return run, w.RunRecord(ctx, run)
}

// RunRecord is Run for a record created by the caller, so the run id is
// known before the experiment finishes.
func (w *ExperimentWorkflow) RunRecord(ctx context.Context, run *model.ExperimentRun) error {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	defer chainCtx.Close()

	chainCtx.Add(commands.ParamSourceURI, run.Source)
	chainCtx.Add(commands.ParamRun, run)
	w.Execute(chainCtx)
	return StageErrors(chainCtx)
}

// NewUploadTriggeredWorkflow runs workflow for the object named in a Cloud
// Storage notification found under cor.CtxIn.
func NewUploadTriggeredWorkflow(workflow *ExperimentWorkflow) cor.Chain {
	out := cor.NewBaseChain("upload-triggered-experiment")
	out.AddCommand(commands.NewUploadTriggerReader(StageUploadTriggerReader))
	out.AddCommand(workflow)
	return out
}
