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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultEncodeArgs is the constant-bitrate H.264 recipe for anchors: target
// and ceiling at the rung bitrate with a two second-equivalent buffer.
const DefaultEncodeArgs = "-v error -y -i %s -c:v libx264 -b:v %dk -maxrate %dk -bufsize %dk %s"

// FFmpegEncoder implements VideoEncoder with the ffmpeg binary.
type FFmpegEncoder struct {
	CommandPath string
}

// NewFFmpegEncoder returns an encoder that runs commandPath, or "ffmpeg" from
// PATH when commandPath is empty.
func NewFFmpegEncoder(commandPath string) *FFmpegEncoder {
	if commandPath == "" {
		commandPath = "ffmpeg"
	}
	return &FFmpegEncoder{CommandPath: commandPath}
}

// Encode transcodes input to output at bitrateKbps using DefaultEncodeArgs.
//
// Inputs:
//   - ctx: Cancels the ffmpeg process.
//   - input: The source video.
//   - bitrateKbps: Target and maximum bitrate; the buffer is twice that.
//   - output: The anchor file, overwritten if present.
//
// Outputs:
//   - error: ffmpeg's exit error with its trimmed stderr attached.
func (f *FFmpegEncoder) Encode(ctx context.Context, input string, bitrateKbps int, output string) error {
	args := strings.Fields(fmt.Sprintf(DefaultEncodeArgs, "{in}", bitrateKbps, bitrateKbps, 2*bitrateKbps, "{out}"))
	// substitute paths after splitting so spaces in file names survive
	for i, a := range args {
		switch a {
		case "{in}":
			args[i] = input
		case "{out}":
			args[i] = output
		}
	}
	cmd := exec.CommandContext(ctx, f.CommandPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("error running ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
