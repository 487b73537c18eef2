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

package evaluator

import (
	"image/color"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	DefaultChartPath = "result_plot.png"
	AnchorLabel      = "H.264 (x264 CBR)"
	CandidateLabel   = "Semantic (generative)"
)

// RenderChart draws the anchor curve and the candidate point to path. The
// image format follows the file extension.
func RenderChart(curve *model.RateQualityCurve, path string) error {
	p := plot.New()
	p.Title.Text = "Rate-Quality Comparison"
	p.X.Label.Text = "Bitrate (kbps)"
	p.Y.Label.Text = "Perceptual distance (lower is better)"
	p.Add(plotter.NewGrid())

	if len(curve.Anchors) > 0 {
		pts := make(plotter.XYs, len(curve.Anchors))
		for i, a := range curve.Anchors {
			pts[i].X, pts[i].Y = a.BitrateKbps, a.Distortion
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{B: 200, A: 255}
		points.Shape = draw.CircleGlyph{}
		points.Color = line.Color
		p.Add(line, points)
		p.Legend.Add(AnchorLabel, line, points)
	}

	candidate, err := plotter.NewScatter(plotter.XYs{{X: curve.Candidate.BitrateKbps, Y: curve.Candidate.Distortion}})
	if err != nil {
		return err
	}
	candidate.Shape = draw.PyramidGlyph{}
	candidate.Color = color.RGBA{R: 220, A: 255}
	candidate.Radius = vg.Points(6)
	p.Add(candidate)
	p.Legend.Add(CandidateLabel, candidate)
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
