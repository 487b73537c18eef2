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

package model

import "sort"

// RatePoint is one (bitrate, distortion) sample on a rate-quality chart.
type RatePoint struct {
	Label       string  `json:"label" yaml:"label" bigquery:"label"`
	BitrateKbps float64 `json:"bitrate_kbps" yaml:"bitrate_kbps" bigquery:"bitrate_kbps"`
	Distortion  float64 `json:"distortion" yaml:"distortion" bigquery:"distortion"`
}

// RateQualityCurve holds the conventional-codec anchor curve plus the single
// point measured for the semantic pipeline's output.
type RateQualityCurve struct {
	Anchors   []RatePoint `json:"anchors" yaml:"anchors"`
	Candidate RatePoint   `json:"candidate" yaml:"candidate"`
}

// AddAnchor appends an anchor point and keeps the anchors ordered by bitrate.
func (c *RateQualityCurve) AddAnchor(p RatePoint) {
	c.Anchors = append(c.Anchors, p)
	sort.SliceStable(c.Anchors, func(i, j int) bool {
		return c.Anchors[i].BitrateKbps < c.Anchors[j].BitrateKbps
	})
}

// AnchorAtOrAbove returns the cheapest anchor whose bitrate is at least kbps.
// The boolean is false when every anchor is cheaper than kbps.
func (c *RateQualityCurve) AnchorAtOrAbove(kbps float64) (RatePoint, bool) {
	for _, a := range c.Anchors {
		if a.BitrateKbps >= kbps {
			return a, true
		}
	}
	return RatePoint{}, false
}

// CandidateBeats reports whether the candidate is at least as good (lower or
// equal distortion) as every anchor that spends at least as many bits.
func (c *RateQualityCurve) CandidateBeats() bool {
	for _, a := range c.Anchors {
		if a.BitrateKbps >= c.Candidate.BitrateKbps && a.Distortion < c.Candidate.Distortion {
			return false
		}
	}
	return true
}
