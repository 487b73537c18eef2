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
)

// LoadFrames decodes the ground-truth frames of the source video and
// settles the frame rate used by the later stages.
type LoadFrames struct {
	cor.BaseCommand
	loader    FrameLoader
	maxFrames int
	frameRate float64
}

// NewLoadFrames creates the load stage.
//
// Inputs:
//   - name: The stage name errors are recorded under.
//   - loader: Decodes the source. When it also implements FrameRateProber
//     and frameRate is not positive, the source's own rate is used.
//   - maxFrames: Upper bound on decoded frames; <= 0 reads everything.
//   - frameRate: Configured frames per second; <= 0 means "use the source".
func NewLoadFrames(name string, loader FrameLoader, maxFrames int, frameRate float64) *LoadFrames {
	return &LoadFrames{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamSourcePath, ParamFrames),
		loader:      loader,
		maxFrames:   maxFrames,
		frameRate:   frameRate,
	}
}

func (c *LoadFrames) resolveFrameRate(context cor.Context, source string) float64 {
	if c.frameRate > 0 {
		return c.frameRate
	}
	if prober, ok := c.loader.(FrameRateProber); ok {
		rate, err := prober.FrameRate(context.GetContext(), source)
		if err == nil && rate > 0 {
			return rate
		}
		if err != nil {
			slog.WarnContext(context.GetContext(), "could not read source frame rate", "source", source, "error", err)
		}
	}
	slog.InfoContext(context.GetContext(), "source frame rate unknown, using default", "fps", DefaultFrameRate)
	return DefaultFrameRate
}

func (c *LoadFrames) Execute(context cor.Context) {
	source := context.Get(c.GetInputParam()).(string)
	slog.InfoContext(context.GetContext(), "loading video", "source", source, "max_frames", c.maxFrames)

	frames, err := c.loader.Load(context.GetContext(), source, c.maxFrames)
	if err != nil {
		fail(c, context, err)
		return
	}
	rate := c.resolveFrameRate(context, source)
	if run := RunOf(context); run != nil {
		run.Shape = frames.Shape().String()
		run.FrameRate = rate
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "video loaded", "frames", len(frames), "shape", frames.Shape().String(), "fps", rate)
	context.Add(ParamFrameRate, rate)
	context.Add(c.GetOutputParam(), frames)
}
