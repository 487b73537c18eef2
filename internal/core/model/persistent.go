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

// Package model defines the data contracts that flow between the pipeline
// stages. This file, `persistent.go`, contains the experiment record that
// outlives a run: it is written to the YAML report, the local sqlite ledger
// and, when configured, a BigQuery table.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExperimentRun summarises one end-to-end run of the pipeline.
type ExperimentRun struct {
	Id                  string      `json:"id" yaml:"id" bigquery:"id"`
	Source              string      `json:"source" yaml:"source" bigquery:"source"`
	Reconstruction      string      `json:"reconstruction" yaml:"reconstruction" bigquery:"reconstruction"`
	Chart               string      `json:"chart" yaml:"chart" bigquery:"chart"`
	ReconstructionURI   string      `json:"reconstruction_uri,omitempty" yaml:"reconstruction_uri,omitempty" bigquery:"reconstruction_uri"`
	ChartURI            string      `json:"chart_uri,omitempty" yaml:"chart_uri,omitempty" bigquery:"chart_uri"`
	Status              string      `json:"status" yaml:"status" bigquery:"status"`
	Failure             string      `json:"failure,omitempty" yaml:"failure,omitempty" bigquery:"failure"`
	Description         string      `json:"description" yaml:"description" bigquery:"description"`
	Shape               string      `json:"shape" yaml:"shape" bigquery:"shape"`
	FrameCount          int         `json:"frame_count" yaml:"frame_count" bigquery:"frame_count"`
	FrameRate           float64     `json:"frame_rate" yaml:"frame_rate" bigquery:"frame_rate"`
	KeyframeInterval    int         `json:"keyframe_interval" yaml:"keyframe_interval" bigquery:"keyframe_interval"`
	Seed                int64       `json:"seed" yaml:"seed" bigquery:"seed"`
	Generations         int         `json:"generations" yaml:"generations" bigquery:"generations"`
	ReusedFrames        int         `json:"reused_frames" yaml:"reused_frames" bigquery:"reused_frames"`
	DescriptionBits     int         `json:"description_bits" yaml:"description_bits" bigquery:"description_bits"`
	StructureBits       int         `json:"structure_bits" yaml:"structure_bits" bigquery:"structure_bits"`
	AchievedBitrateKbps float64     `json:"achieved_bitrate_kbps" yaml:"achieved_bitrate_kbps" bigquery:"achieved_bitrate_kbps"`
	Distortion          float64     `json:"distortion" yaml:"distortion" bigquery:"distortion"`
	Anchors             []RatePoint `json:"anchors" yaml:"anchors" bigquery:"anchors"`
	StartDate           time.Time   `json:"start_date" yaml:"start_date" bigquery:"start_date"`
	EndDate             time.Time   `json:"end_date" yaml:"end_date" bigquery:"end_date"`
}

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// NewExperimentRun creates a run record for source. The id is a UUIDv5 of
// the source and start time, so two runs on the same clip never collide.
func NewExperimentRun(source string) *ExperimentRun {
	now := time.Now()
	key := fmt.Sprintf("%s@%d", source, now.UnixNano())
	return &ExperimentRun{
		Id:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
		Source:    source,
		Status:    RunRunning,
		StartDate: now,
		Anchors:   make([]RatePoint, 0),
	}
}

// ApplyTransmission copies the channel measurements into the run.
func (r *ExperimentRun) ApplyTransmission(report *TransmissionReport) {
	r.Description = report.Description
	r.FrameCount = report.FrameCount
	r.DescriptionBits = report.DescriptionBits
	r.StructureBits = report.StructureBits
	r.AchievedBitrateKbps = report.AchievedBitrateKbps
}

// ApplyCurve copies the evaluation result into the run.
func (r *ExperimentRun) ApplyCurve(curve *RateQualityCurve) {
	r.Anchors = append(r.Anchors[:0], curve.Anchors...)
	r.Distortion = curve.Candidate.Distortion
}

// Finish stamps the end time and the outcome. A nil err marks success.
func (r *ExperimentRun) Finish(err error) {
	r.EndDate = time.Now()
	if err != nil {
		r.Status = RunFailed
		r.Failure = err.Error()
		return
	}
	r.Status = RunSucceeded
	r.Failure = ""
}
