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

// GenerativeDecode reconstructs the clip from the received package.
type GenerativeDecode struct {
	cor.BaseCommand
	decoder SemanticDecoder
}

// NewGenerativeDecode creates the receiver stage.
func NewGenerativeDecode(name string, decoder SemanticDecoder) *GenerativeDecode {
	return &GenerativeDecode{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamTransmission, ParamReconstruction),
		decoder:     decoder,
	}
}

func (c *GenerativeDecode) Execute(context cor.Context) {
	report := context.Get(c.GetInputParam()).(*model.TransmissionReport)
	settings := c.decoder.Settings()
	slog.InfoContext(context.GetContext(), "generative decoding",
		"frames", len(report.StructureStream),
		"keyframe_interval", settings.KeyframeInterval,
		"seed", settings.Seed)

	frames, state, err := c.decoder.Decode(context.GetContext(), report)
	if run := RunOf(context); run != nil {
		run.KeyframeInterval = settings.KeyframeInterval
		run.Seed = settings.Seed
		run.Generations = state.Generations
		run.ReusedFrames = state.Reused
	}
	if err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "decoding finished", "generations", state.Generations, "reused", state.Reused)
	context.Add(c.GetOutputParam(), frames)
}
