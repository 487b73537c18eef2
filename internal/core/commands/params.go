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

// Package commands holds the individual stages of the experiment workflow.
// Every command embeds cor.BaseCommand, reads its inputs from named context
// parameters, and records failures against its own name so the caller can
// report which stage broke.
package commands

import (
	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// Context parameters shared by the experiment commands.
const (
	ParamSourceURI          = "__source_uri__"          // string: local path or gs://bucket/object
	ParamSourcePath         = "__source_path__"         // string: local file the frames are read from
	ParamFrames             = "__frames__"              // model.FrameSequence: ground-truth frames
	ParamPackage            = "__semantic_package__"    // *model.SemanticPackage
	ParamTransmission       = "__transmission_report__" // *model.TransmissionReport
	ParamReconstruction     = "__reconstruction__"      // model.FrameSequence: decoded frames
	ParamReconstructionPath = "__reconstruction_path__" // string: written candidate video
	ParamGroundTruthPath    = "__ground_truth_path__"   // string: truncated source clip
	ParamCurve              = "__rate_quality_curve__"  // *model.RateQualityCurve
	ParamRun                = "__experiment_run__"      // *model.ExperimentRun
	ParamFrameRate          = "__frame_rate__"          // float64: frames per second of the loaded clip
)

// DefaultFrameRate is assumed when neither the configuration nor the source
// provides a frame rate.
const DefaultFrameRate = 30.0

// RunOf returns the run record carried by context, or nil.
func RunOf(context cor.Context) *model.ExperimentRun {
	run, _ := context.Get(ParamRun).(*model.ExperimentRun)
	return run
}

// frameRateOf returns the rate recorded by the load stage, or fallback when
// none was recorded.
func frameRateOf(context cor.Context, fallback float64) float64 {
	if rate, ok := context.Get(ParamFrameRate).(float64); ok && rate > 0 {
		return rate
	}
	return fallback
}

// fail records err against the command and bumps its error counter.
func fail(c cor.Command, context cor.Context, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), err)
}
