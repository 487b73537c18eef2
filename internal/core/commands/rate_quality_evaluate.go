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

package commands

import (
	"log/slog"

	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// RateQualityEvaluate scores the reconstruction and the codec anchor ladder
// against the ground-truth clip and renders the chart.
type RateQualityEvaluate struct {
	cor.BaseCommand
	evaluator RateQualityEvaluator
	chartPath string
}

// NewRateQualityEvaluate creates the evaluation stage; chartPath is recorded on the run.
func NewRateQualityEvaluate(name string, evaluator RateQualityEvaluator, chartPath string) *RateQualityEvaluate {
	return &RateQualityEvaluate{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamReconstructionPath, ParamCurve),
		evaluator:   evaluator,
		chartPath:   chartPath,
	}
}

func (c *RateQualityEvaluate) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) &&
		context.Get(ParamGroundTruthPath) != nil &&
		context.Get(ParamTransmission) != nil
}

func (c *RateQualityEvaluate) Execute(context cor.Context) {
	ctx := context.GetContext()
	candidate := context.Get(c.GetInputParam()).(string)
	groundTruth := context.Get(ParamGroundTruthPath).(string)
	report := context.Get(ParamTransmission).(*model.TransmissionReport)
	slog.InfoContext(ctx, "evaluating", "ground_truth", groundTruth, "candidate", candidate)

	curve, err := c.evaluator.RunEvaluation(ctx, groundTruth, candidate, report.AchievedBitrateKbps)
	if err != nil {
		fail(c, context, err)
		return
	}
	if run := RunOf(context); run != nil {
		run.ApplyCurve(curve)
		run.Chart = c.chartPath
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), curve)
}
