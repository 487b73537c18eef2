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

// Package channel measures what a semantic package costs on the wire. It does
// not estimate: every structure frame is downscaled, binarised, bit-packed and
// deflated exactly as it would be before transmission, and the bit count of
// the real compressed payload is what the report charges.
package channel

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
)

const (
	// DefaultTargetWidth is the width structure frames are reduced to before
	// packing. Height follows the source aspect ratio.
	DefaultTargetWidth = 192
	// BinarizeThreshold splits edge pixels from background (strictly greater).
	BinarizeThreshold = 127
)

// Simulator is the channel model.
type Simulator struct {
	// TargetWidth for structure frames; DefaultTargetWidth when zero.
	TargetWidth int
	// DescriptionChannel perturbs the description in transit. Nil is identity.
	DescriptionChannel func(string) string
	// LossyStructure hands the decoder the structure frames reconstructed
	// from the packet instead of the sender's full-resolution maps.
	LossyStructure bool
}

// NewSimulator returns a Simulator with the default geometry and an
// identity description channel.
func NewSimulator() *Simulator {
	return &Simulator{TargetWidth: DefaultTargetWidth}
}

func (s *Simulator) width() int {
	if s.TargetWidth <= 0 {
		return DefaultTargetWidth
	}
	return s.TargetWidth
}

// CompressStructureFrame compresses frame at DefaultTargetWidth.
func CompressStructureFrame(frame image.Image) ([]byte, error) {
	return compressAt(frame, DefaultTargetWidth)
}

// Compress compresses frame at the simulator's target width.
func (s *Simulator) Compress(frame image.Image) ([]byte, error) {
	return compressAt(frame, s.width())
}

// compressAt resizes with nearest-neighbour sampling (no new intensities),
// binarises, packs the bits row-major MSB first and deflates at the highest
// level.
func compressAt(frame image.Image, width int) ([]byte, error) {
	b := frame.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("compressing structure frame: empty frame")
	}
	height := imaging.ScaledHeight(b.Dx(), b.Dy(), width)
	gray := imaging.ResizeGrayNearest(imaging.Grayscale(frame), width, height)
	packed := imaging.PackBits(imaging.Binarize(gray, BinarizeThreshold))

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err = zw.Write(packed); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EstimateBits is the transmitted size of payload in bits.
func EstimateBits(payload []byte) int {
	return 8 * len(payload)
}

// SimulateTransmission compresses every structure frame of pkg, charges the
// UTF-8 description once, and converts the total to kbit/s over the clip's
// duration at frameRate.
//
// When a DescriptionChannel is set its output replaces pkg.Description, once.
func (s *Simulator) SimulateTransmission(ctx context.Context, pkg *model.SemanticPackage, frameRate float64) (*model.TransmissionReport, error) {
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	if frameRate <= 0 {
		return nil, fmt.Errorf("%w: frame rate %v gives no clip duration", model.ErrEmptySequence, frameRate)
	}
	description := pkg.Description
	if s.DescriptionChannel != nil {
		description = s.DescriptionChannel(description)
		pkg.Description = description
	}
	// Go strings are UTF-8 bytes already
	descriptionBits := len(description) * 8

	packet := &Packet{
		Description: description,
		SourceShape: pkg.SourceShape,
		Frames:      make([][]byte, 0, len(pkg.StructureStream)),
	}
	structureBits := 0
	for i, frame := range pkg.StructureStream {
		payload, err := s.Compress(frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		structureBits += EstimateBits(payload)
		packet.Frames = append(packet.Frames, payload)
	}
	first := pkg.StructureStream[0].Bounds()
	packet.Width = s.width()
	packet.Height = imaging.ScaledHeight(first.Dx(), first.Dy(), packet.Width)

	frames := len(pkg.StructureStream)
	seconds := float64(frames) / frameRate
	total := descriptionBits + structureBits
	report := &model.TransmissionReport{
		Description:         description,
		StructureStream:     pkg.StructureStream,
		AchievedBitrateKbps: float64(total) / seconds / 1000,
		DescriptionBits:     descriptionBits,
		StructureBits:       structureBits,
		TotalBits:           total,
		FrameCount:          frames,
		Duration:            time.Duration(seconds * float64(time.Second)),
	}

	if s.LossyStructure {
		wire, err := EncodePacket(packet)
		if err != nil {
			return nil, err
		}
		received, err := DecodePacket(wire)
		if err != nil {
			return nil, err
		}
		if report.StructureStream, err = received.StructureFrames(); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "structure reconstructed from packet", "packet_bytes", len(wire))
	}

	slog.InfoContext(ctx, "channel report",
		"description_bits", descriptionBits,
		"structure_bits", structureBits,
		"total_kb", report.TotalKilobytes(),
		"duration", report.Duration.String(),
		"kbps", report.AchievedBitrateKbps)
	return report, nil
}
