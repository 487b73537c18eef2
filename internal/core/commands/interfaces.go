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
	"context"

	"github.com/jaycherian/gencomm-video/internal/core/decoder"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// FrameLoader reads up to maxFrames frames from a local video.
type FrameLoader interface {
	Load(ctx context.Context, source string, maxFrames int) (model.FrameSequence, error)
}

// FrameRateProber is implemented by loaders that can report the native
// frame rate of a source. A zero rate means unknown.
type FrameRateProber interface {
	FrameRate(ctx context.Context, source string) (float64, error)
}

// FrameSaver writes frames to a video file.
type FrameSaver interface {
	Save(ctx context.Context, seq model.FrameSequence, destination string, frameRate float64) error
}

// SemanticEncoder reduces a clip to a semantic package.
type SemanticEncoder interface {
	Encode(ctx context.Context, frames model.FrameSequence) (*model.SemanticPackage, error)
}

// TransmissionSimulator measures what a package costs on the channel.
type TransmissionSimulator interface {
	SimulateTransmission(ctx context.Context, pkg *model.SemanticPackage, frameRate float64) (*model.TransmissionReport, error)
}

// SemanticDecoder regenerates frames from a received package.
type SemanticDecoder interface {
	Decode(ctx context.Context, report *model.TransmissionReport) (model.FrameSequence, decoder.State, error)
	Settings() decoder.Settings
}

// RateQualityEvaluator compares a candidate video to codec anchors.
type RateQualityEvaluator interface {
	RunEvaluation(ctx context.Context, groundTruth, candidate string, candidateKbps float64) (*model.RateQualityCurve, error)
}

// RunStore persists experiment run records.
type RunStore interface {
	Save(ctx context.Context, run *model.ExperimentRun) error
}
