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

package framestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// StreamInfo describes the first video stream of a container. Width and
// Height are the displayed size, i.e. after the stream's rotation is
// applied, which is the size ffmpeg decodes to.
type StreamInfo struct {
	Width     int
	Height    int
	Rotation  int // degrees, normalised to [0, 360)
	FrameRate float64
}

type probeOutput struct {
	Streams []struct {
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		RFrameRate   string            `json:"r_frame_rate"`
		AvgFrameRate string            `json:"avg_frame_rate"`
		Tags         map[string]string `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads the geometry, rotation and frame rate of source with ffprobe.
// Rotation comes from the display matrix side data, or from the legacy
// "rotate" tag on older containers.
func (s *Store) Probe(ctx context.Context, source string) (*StreamInfo, error) {
	cmd := exec.CommandContext(ctx, s.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: ffprobe: %v: %s", model.ErrSourceNotFound, source, err, strings.TrimSpace(stderr.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: unreadable probe output: %v", model.ErrSourceNotFound, source, err)
	}
	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return nil, fmt.Errorf("%w: %s has no video stream", model.ErrSourceNotFound, source)
	}
	st := out.Streams[0]
	rate := parseRate(st.AvgFrameRate)
	if rate <= 0 {
		rate = parseRate(st.RFrameRate)
	}
	rotation := 0
	if v, ok := st.Tags["rotate"]; ok {
		if r, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			rotation = r
		}
	}
	for _, sd := range st.SideDataList {
		if sd.Rotation != 0 {
			rotation = int(math.Round(sd.Rotation))
		}
	}
	w, h, rotation := displaySize(st.Width, st.Height, rotation)
	return &StreamInfo{Width: w, Height: h, Rotation: rotation, FrameRate: rate}, nil
}

// FrameRate returns the native frame rate of source, zero when ffprobe
// cannot tell.
func (s *Store) FrameRate(ctx context.Context, source string) (float64, error) {
	info, err := s.Probe(ctx, source)
	if err != nil {
		return 0, err
	}
	return info.FrameRate, nil
}

// displaySize swaps the coded width and height for quarter-turn rotations
// and returns the rotation normalised to [0, 360).
func displaySize(width, height, rotation int) (int, int, int) {
	rotation %= 360
	if rotation < 0 {
		rotation += 360
	}
	if rotation == 90 || rotation == 270 {
		return height, width, rotation
	}
	return width, height, rotation
}

// parseRate understands ffprobe's "num/den" notation and plain decimals.
func parseRate(v string) float64 {
	num, den, found := strings.Cut(v, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
