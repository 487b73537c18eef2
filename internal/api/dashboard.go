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

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// Stats summarises recent runs.
type Stats struct {
	Runs                     int     `json:"runs"`
	Succeeded                int     `json:"succeeded"`
	Failed                   int     `json:"failed"`
	MeanBitrateKbps          float64 `json:"mean_bitrate_kbps"`
	MeanDistortion           float64 `json:"mean_distortion"`
	BeatsAnchorAtSameBitrate int     `json:"beats_anchor_at_same_bitrate"`
}

// Summarize computes Stats. Means cover succeeded runs only.
func Summarize(runs []*model.ExperimentRun) Stats {
	var s Stats
	for _, r := range runs {
		s.Runs++
		switch r.Status {
		case model.RunFailed:
			s.Failed++
			continue
		case model.RunSucceeded:
		default:
			continue
		}
		s.Succeeded++
		s.MeanBitrateKbps += r.AchievedBitrateKbps
		s.MeanDistortion += r.Distortion
		curve := model.RateQualityCurve{
			Anchors:   r.Anchors,
			Candidate: model.RatePoint{BitrateKbps: r.AchievedBitrateKbps, Distortion: r.Distortion},
		}
		if len(r.Anchors) > 0 && curve.CandidateBeats() {
			s.BeatsAnchorAtSameBitrate++
		}
	}
	if s.Succeeded > 0 {
		s.MeanBitrateKbps /= float64(s.Succeeded)
		s.MeanDistortion /= float64(s.Succeeded)
	}
	return s
}

// Dashboard registers GET /stats over the most recent runs.
func Dashboard(r *gin.RouterGroup, runs interface {
	List(ctx context.Context, limit int) ([]*model.ExperimentRun, error)
}) {
	stats := r.Group("/stats")
	{
		stats.GET("", func(c *gin.Context) {
			recent, err := runs.List(c, count(c, 100))
			if err != nil {
				slog.ErrorContext(c, "failed to read runs for stats", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read experiments"})
				return
			}
			c.JSON(http.StatusOK, Summarize(recent))
		})
	}
}
