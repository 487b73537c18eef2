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

// Command gencomm runs one semantic video transmission experiment:
// caption and edge extraction, channel measurement, generative
// reconstruction and rate-quality evaluation against H.264 anchors.
//
// Flags override the values loaded from configs/.env.toml and the runtime
// overlay. On failure each failing stage is printed as "[stage] error" and
// the process exits with status 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/workflow"
	"github.com/jaycherian/gencomm-video/internal/ledger"
	"github.com/jaycherian/gencomm-video/internal/telemetry"
)

// options are the command-line overrides; zero values leave the
// configuration untouched.
type options struct {
	input            string
	output           string
	maxFrames        int
	keyframeInterval int
	seed             int64
	seedSet          bool
	ladder           string
	verbose          bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gencomm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.input, "input", "", "source video, local path or gs://bucket/object")
	fs.StringVar(&o.output, "output", "", "reconstructed video path")
	fs.IntVar(&o.maxFrames, "max-frames", 0, "frames read from the source")
	fs.IntVar(&o.keyframeInterval, "keyframe-interval", 0, "generate every Nth frame, reuse the rest")
	fs.Func("seed", "generator seed, a 32-bit integer", func(v string) error {
		s, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return err
		}
		o.seed, o.seedSet = s, true
		return nil
	})
	fs.StringVar(&o.ladder, "ladder", "", "comma separated anchor bitrates in kbps, e.g. 50,100,200")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func parseLadder(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kbps, err := strconv.Atoi(part)
		if err != nil || kbps <= 0 {
			return nil, fmt.Errorf("invalid ladder rung %q", part)
		}
		out = append(out, kbps)
	}
	if len(out) == 0 {
		return nil, errors.New("ladder has no rungs")
	}
	return out, nil
}

// apply writes the overrides into config.
func (o *options) apply(config *cloud.Config) error {
	if o.input != "" {
		config.Experiment.Input = o.input
	}
	if o.output != "" {
		config.Experiment.Output = o.output
	}
	if o.maxFrames > 0 {
		config.Experiment.MaxFrames = o.maxFrames
	}
	if o.keyframeInterval != 0 {
		config.Decoder.KeyframeInterval = o.keyframeInterval
	}
	if o.seedSet {
		if o.seed < math.MinInt32 || o.seed > math.MaxInt32 {
			return fmt.Errorf("seed %d outside the 32-bit range", o.seed)
		}
		config.Decoder.Seed = o.seed
	}
	if o.ladder != "" {
		ladder, err := parseLadder(o.ladder)
		if err != nil {
			return err
		}
		config.Evaluator.Ladder = ladder
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		_ = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	}
	config := cloud.NewConfig()
	cloud.LoadConfig(config)
	if err = opts.apply(config); err != nil {
		fmt.Fprintf(stderr, "[flags] %v\n", err)
		return 2
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	closeLog, err := telemetry.SetupLogging(config.Application.LogFile, level)
	if err != nil {
		fmt.Fprintf(stderr, "[logging] %v\n", err)
		return 1
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		fmt.Fprintf(stderr, "[telemetry] %v\n", err)
		return 1
	}
	defer func() { _ = shutdown(context.Background()) }()

	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		fmt.Fprintf(stderr, "[cloud] %v\n", err)
		return 1
	}
	defer func() { _ = clients.Close() }()

	var wfOpts []workflow.Option
	if config.Ledger.Path != "" {
		l, err := ledger.Open(ctx, config.Ledger.Path)
		if err != nil {
			fmt.Fprintf(stderr, "[ledger] %v\n", err)
			return 1
		}
		defer func() { _ = l.Close() }()
		wfOpts = append(wfOpts, workflow.WithRunStore(l))
	}

	experiment, err := workflow.NewExperimentWorkflow(config, clients, wfOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "[setup] %v\n", err)
		return 1
	}

	slog.Info("experiment starting", "input", config.Experiment.Input, "max_frames", config.Experiment.MaxFrames)
	result, err := experiment.Run(ctx, config.Experiment.Input)
	if err != nil {
		var stageErr *workflow.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintln(stderr, err)
		} else {
			fmt.Fprintf(stderr, "[experiment] %v\n", err)
		}
		return 1
	}
	slog.Info("experiment finished",
		"run", result.Id,
		"bitrate_kbps", result.AchievedBitrateKbps,
		"distortion", result.Distortion,
		"output", result.Reconstruction,
		"chart", result.Chart)
	return 0
}
