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

// ChannelSimulate measures the bitrate of the semantic package and hands
// the received package on to the decoder.
type ChannelSimulate struct {
	cor.BaseCommand
	simulator TransmissionSimulator
	frameRate float64
}

// NewChannelSimulate creates the channel stage. frameRate is used only when
// the load stage recorded no rate of its own.
func NewChannelSimulate(name string, simulator TransmissionSimulator, frameRate float64) *ChannelSimulate {
	return &ChannelSimulate{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamPackage, ParamTransmission),
		simulator:   simulator,
		frameRate:   frameRate,
	}
}

func (c *ChannelSimulate) Execute(context cor.Context) {
	pkg := context.Get(c.GetInputParam()).(*model.SemanticPackage)
	rate := frameRateOf(context, c.frameRate)

	report, err := c.simulator.SimulateTransmission(context.GetContext(), pkg, rate)
	if err != nil {
		fail(c, context, err)
		return
	}
	if run := RunOf(context); run != nil {
		run.ApplyTransmission(report)
		run.FrameRate = rate
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "channel report",
		"description_bits", report.DescriptionBits,
		"structure_bits", report.StructureBits,
		"total_kb", report.TotalKilobytes(),
		"bitrate_kbps", report.AchievedBitrateKbps)
	context.Add(c.GetOutputParam(), report)
}
