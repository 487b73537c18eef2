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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// SaveReconstruction writes the decoded frames to the output video and the
// ground-truth frames to a short clip of the same length, so both sides of
// the evaluation cover exactly the frames that went through the pipeline.
// The ground-truth clip is a temporary file of the run.
type SaveReconstruction struct {
	cor.BaseCommand
	saver           FrameSaver
	output          string
	groundTruthClip string
	frameRate       float64
}

// NewSaveReconstruction creates the stage that writes both videos.
//
// Inputs:
//   - name: The stage name errors are recorded under.
//   - saver: Encodes frames to a video file.
//   - output: Path of the reconstructed video.
//   - groundTruthClip: Path of the truncated source clip, removed when the
//     run's context closes.
//   - frameRate: Used only when the load stage recorded no rate.
func NewSaveReconstruction(name string, saver FrameSaver, output, groundTruthClip string, frameRate float64) *SaveReconstruction {
	return &SaveReconstruction{
		BaseCommand:     *cor.NewBaseCommand(name).WithParams(ParamReconstruction, ParamReconstructionPath),
		saver:           saver,
		output:          output,
		groundTruthClip: groundTruthClip,
		frameRate:       frameRate,
	}
}

func (c *SaveReconstruction) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(ParamFrames) != nil
}

func (c *SaveReconstruction) Execute(context cor.Context) {
	ctx := context.GetContext()
	generated := context.Get(c.GetInputParam()).(model.FrameSequence)
	groundTruth := context.Get(ParamFrames).(model.FrameSequence)
	rate := frameRateOf(context, c.frameRate)

	if err := c.saver.Save(ctx, generated, c.output, rate); err != nil {
		fail(c, context, fmt.Errorf("writing %s: %w", c.output, err))
		return
	}
	if run := RunOf(context); run != nil {
		run.Reconstruction = c.output
	}
	slog.InfoContext(ctx, "reconstruction written", "path", c.output, "frames", len(generated))

	context.AddTempFile(c.groundTruthClip)
	if err := c.saver.Save(ctx, groundTruth, c.groundTruthClip, rate); err != nil {
		fail(c, context, fmt.Errorf("writing %s: %w", c.groundTruthClip, err))
		return
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(ParamGroundTruthPath, c.groundTruthClip)
	context.Add(c.GetOutputParam(), c.output)
}
