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

// Package framestore moves frames between video containers on disk and
// in-memory RGB sequences. Decoding and encoding are delegated to the ffmpeg
// and ffprobe binaries over raw rgb24 pipes, so any container ffmpeg can
// demux is a valid source.
//
// Logic Flow (Load):
//  1. Stat the source and sniff its header; anything that is not a video
//     container is reported as ErrSourceNotFound.
//  2. Probe the first video stream for its displayed geometry and frame
//     rate. ffmpeg applies the stream's rotation while decoding, so a
//     portrait phone clip comes back upright.
//  3. Stream decoded frames out of ffmpeg one frame-sized block at a time,
//     stopping after maxFrames when a limit is given.
//
// Save is the mirror image: frames are written to ffmpeg's stdin and encoded
// to H.264 at the caller's frame rate.
package framestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	sniffLength        = 261
)

// Store wraps the ffmpeg binaries used for frame I/O.
type Store struct {
	FFmpegPath  string
	FFprobePath string
}

// New returns a Store, falling back to the binaries on PATH for empty paths.
func New(ffmpegPath, ffprobePath string) *Store {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if ffprobePath == "" {
		ffprobePath = DefaultFFprobePath
	}
	return &Store{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Load decodes up to maxFrames frames of source in presentation order.
// maxFrames <= 0 reads the whole stream.
func (s *Store) Load(ctx context.Context, source string, maxFrames int) (model.FrameSequence, error) {
	if err := sniff(source); err != nil {
		return nil, err
	}
	info, err := s.Probe(ctx, source)
	if err != nil {
		return nil, err
	}

	// autorotate is ffmpeg's default; Probe already reports the rotated size
	args := []string{"-v", "error", "-nostdin", "-autorotate", "-i", source}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")

	cmd := exec.CommandContext(ctx, s.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg for %s: %w", source, err)
	}

	frames := make(model.FrameSequence, 0)
	buf := make([]byte, info.Width*info.Height*model.FrameChannels)
	for maxFrames <= 0 || len(frames) < maxFrames {
		if _, err = io.ReadFull(stdout, buf); err != nil {
			break
		}
		frames = append(frames, rgbToRGBA(buf, info.Width, info.Height))
	}
	// drain so ffmpeg never blocks on a full pipe after an early stop
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("reading frames from %s: %w", source, err)
	}
	if len(frames) == 0 {
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %s: ffmpeg: %v: %s", model.ErrSourceNotFound, source, waitErr, stderr.String())
		}
		return nil, fmt.Errorf("%w: no frames decoded from %s", model.ErrEmptySequence, source)
	}
	if waitErr != nil {
		slog.WarnContext(ctx, "ffmpeg exited with error after decoding frames", "source", source, "frames", len(frames), "error", waitErr)
	}
	return frames, nil
}

// Save encodes seq into destination, creating or overwriting it. An empty
// sequence is logged and ignored.
func (s *Store) Save(ctx context.Context, seq model.FrameSequence, destination string, frameRate float64) error {
	if len(seq) == 0 {
		slog.WarnContext(ctx, "no frames to save", "destination", destination)
		return nil
	}
	if err := seq.Validate(); err != nil {
		return fmt.Errorf("saving %s: %w", destination, err)
	}
	if frameRate <= 0 {
		return fmt.Errorf("saving %s: invalid frame rate %v", destination, frameRate)
	}
	if dir := filepath.Dir(destination); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	shape := seq.Shape()
	args := []string{
		"-v", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", shape.Width, shape.Height),
		"-r", strconv.FormatFloat(frameRate, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-pix_fmt", "yuv444p",
		destination,
	}
	cmd := exec.CommandContext(ctx, s.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg for %s: %w", destination, err)
	}

	buf := make([]byte, shape.Width*shape.Height*model.FrameChannels)
	for _, frame := range seq {
		rgbaToRGB(frame, buf)
		if _, err = stdin.Write(buf); err != nil {
			break
		}
	}
	closeErr := stdin.Close()
	if waitErr := cmd.Wait(); waitErr != nil {
		return fmt.Errorf("encoding %s: %w: %s", destination, waitErr, stderr.String())
	}
	if err != nil {
		return fmt.Errorf("writing frames to %s: %w", destination, err)
	}
	return closeErr
}

func sniff(source string) error {
	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, source, err)
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, source, err)
	}
	head = head[:n]
	if n == 0 {
		return fmt.Errorf("%w: %s is empty", model.ErrSourceNotFound, source)
	}
	kind, _ := filetype.Match(head)
	if kind != filetype.Unknown && !filetype.IsVideo(head) {
		return fmt.Errorf("%w: %s is %s, not a video", model.ErrSourceNotFound, source, kind.MIME.Value)
	}
	return nil
}

func rgbToRGBA(buf []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(buf); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = buf[i], buf[i+1], buf[i+2], 0xff
	}
	return img
}

func rgbaToRGB(img *image.RGBA, buf []byte) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-img.Rect.Min.Y)*img.Stride+(b.Min.X-img.Rect.Min.X)*4:]
		for x := 0; x < b.Dx(); x++ {
			buf[i], buf[i+1], buf[i+2] = row[4*x], row[4*x+1], row[4*x+2]
			i += 3
		}
	}
}
