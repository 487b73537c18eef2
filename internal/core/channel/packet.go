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

package channel

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"io"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
	"github.com/vmihailenco/msgpack/v5"
)

// Packet is the wire form of a semantic package: the description plus the
// compressed structure payloads, all at Width x Height.
type Packet struct {
	Description string      `msgpack:"d"`
	Width       int         `msgpack:"w"`
	Height      int         `msgpack:"h"`
	SourceShape model.Shape `msgpack:"s"`
	Frames      [][]byte    `msgpack:"f"`
}

// EncodePacket serialises p with msgpack.
func EncodePacket(p *Packet) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding packet: %w", err)
	}
	return b, nil
}

// DecodePacket parses a packet produced by EncodePacket.
func DecodePacket(b []byte) (*Packet, error) {
	p := &Packet{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("decoding packet: %w", err)
	}
	return p, nil
}

// StructureFrames inflates every payload back into an edge map and upsamples
// it (nearest) to the source geometry, so the result is again strictly 0/255.
func (p *Packet) StructureFrames() ([]*image.RGBA, error) {
	if len(p.Frames) == 0 {
		return nil, fmt.Errorf("%w: packet carries no structure frames", model.ErrEmptySequence)
	}
	w, h := p.SourceShape.Width, p.SourceShape.Height
	if w <= 0 || h <= 0 {
		w, h = p.Width, p.Height
	}
	out := make([]*image.RGBA, len(p.Frames))
	for i, payload := range p.Frames {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		packed, err := io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		bits := imaging.UnpackBits(packed, p.Width*p.Height)
		gray := imaging.BitsToGray(bits, p.Width, p.Height)
		if w != p.Width || h != p.Height {
			gray = imaging.ResizeGrayNearest(gray, w, h)
		}
		out[i] = imaging.ReplicateChannels(gray)
	}
	return out, nil
}
