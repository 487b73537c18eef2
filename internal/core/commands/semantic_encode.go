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

// SemanticEncode extracts the description and structure stream.
type SemanticEncode struct {
	cor.BaseCommand
	encoder SemanticEncoder
}

// NewSemanticEncode creates the sender stage: caption plus structure stream.
func NewSemanticEncode(name string, encoder SemanticEncoder) *SemanticEncode {
	return &SemanticEncode{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamFrames, ParamPackage),
		encoder:     encoder,
	}
}

func (c *SemanticEncode) Execute(context cor.Context) {
	frames := context.Get(c.GetInputParam()).(model.FrameSequence)
	slog.InfoContext(context.GetContext(), "semantic encoding", "frames", len(frames))

	pkg, err := c.encoder.Encode(context.GetContext(), frames)
	if err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "description extracted", "description", pkg.Description)
	context.Add(c.GetOutputParam(), pkg)
}
