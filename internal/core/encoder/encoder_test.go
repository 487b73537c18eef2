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

package encoder_test

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/core/encoder"
	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/imaging"
	test "github.com/jaycherian/gencomm-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDescriptionAppendsSuffix(t *testing.T) {
	enc := encoder.New(&test.FakeCaptioner{Text: "a man walking a dog "})
	desc, err := enc.ExtractDescription(context.Background(), test.SyntheticClip(1, 16, 16)[0])
	require.NoError(t, err)
	assert.Equal(t, "a man walking a dog"+encoder.QualitySuffix, desc)
}

func TestExtractStructureIsBinaryAndSameSize(t *testing.T) {
	frame := test.SyntheticClip(1, 48, 36)[0]
	enc := encoder.New(&test.FakeCaptioner{})
	edges := enc.ExtractStructure(frame)

	assert.Equal(t, frame.Bounds().Size(), edges.Bounds().Size())
	seen := false
	for i := 0; i < len(edges.Pix); i += 4 {
		r, g, b := edges.Pix[i], edges.Pix[i+1], edges.Pix[i+2]
		assert.True(t, r == 0 || r == 255)
		assert.Equal(t, r, g)
		assert.Equal(t, r, b)
		if r == 255 {
			seen = true
		}
	}
	assert.True(t, seen, "square contour should produce edges")
}

func TestExtractStructureOutputIsItsOwnEdgeMap(t *testing.T) {
	frame := test.SyntheticClip(1, 40, 30)[0]
	enc := encoder.New(&test.FakeCaptioner{})
	first := enc.ExtractStructure(frame)
	again := enc.ExtractStructure(frame)
	assert.Equal(t, first.Pix, again.Pix)

	// the grayscale of a structure frame is exactly its edge set
	gray := imaging.Grayscale(first)
	for i, v := range gray.Pix {
		assert.Equal(t, first.Pix[4*i], v)
	}
}

func TestEncodeUsesCentralFrameAndEveryStructure(t *testing.T) {
	captioner := &test.FakeCaptioner{Text: "a red ball"}
	clip := test.SyntheticClip(7, 32, 24)
	pkg, err := encoder.New(captioner).Encode(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, 1, captioner.Calls())
	assert.True(t, strings.HasPrefix(pkg.Description, "a red ball"))
	assert.Len(t, pkg.StructureStream, 7)
	assert.Equal(t, model.Shape{Height: 24, Width: 32, Channels: 3}, pkg.SourceShape)
}

func TestEncodeEmptyClip(t *testing.T) {
	_, err := encoder.New(&test.FakeCaptioner{}).Encode(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrEmptySequence)
}

func TestEncodeCaptionFailure(t *testing.T) {
	boom := errors.New("captioner offline")
	_, err := encoder.New(&test.FakeCaptioner{Err: boom}).Encode(context.Background(), test.SyntheticClip(2, 8, 8))
	assert.ErrorIs(t, err, boom)
}

func TestCannyThresholdOption(t *testing.T) {
	frame := test.SyntheticClip(1, 32, 32)[0]
	// thresholds above the maximum L1 gradient can never seed an edge
	enc := encoder.New(&test.FakeCaptioner{}, encoder.WithCannyThresholds(5000, 6000))
	edges := enc.ExtractStructure(frame)
	assert.Equal(t, make([]uint8, len(edges.Pix)/4), imaging.Grayscale(edges).Pix)
	assert.Equal(t, image.Pt(32, 32), edges.Bounds().Size())
}
