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
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultFFmpegPath); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath(DefaultFFprobePath); err != nil {
		t.Skip("ffprobe not available")
	}
	out, err := exec.Command(DefaultFFmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil || !bytes.Contains(out, []byte("libx264")) {
		t.Skip("ffmpeg built without libx264")
	}
}

func gradientClip(n, w, h int) model.FrameSequence {
	seq := make(model.FrameSequence, n)
	for i := range seq {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8(i * 20), A: 255})
			}
		}
		seq[i] = img
	}
	return seq
}

func TestLoadMissingSource(t *testing.T) {
	_, err := New("", "").Load(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), 10)
	assert.ErrorIs(t, err, model.ErrSourceNotFound)
}

func TestLoadRejectsStillImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, f.Close())

	_, err = New("", "").Load(context.Background(), path, 10)
	assert.ErrorIs(t, err, model.ErrSourceNotFound)
}

func TestSaveEmptySequenceIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	assert.NoError(t, New("", "").Save(context.Background(), nil, path, 30))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 30.0, parseRate("30/1"))
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseRate("25"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 0.0, parseRate("n/a"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	store := New("", "")
	path := filepath.Join(t.TempDir(), "clip.mp4")

	// odd dimensions exercise the 4:4:4 output path
	clip := gradientClip(5, 33, 21)
	require.NoError(t, store.Save(ctx, clip, path, 30))

	info, err := store.Probe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 33, info.Width)
	assert.Equal(t, 21, info.Height)
	assert.InDelta(t, 30.0, info.FrameRate, 0.01)

	loaded, err := store.Load(ctx, path, 0)
	require.NoError(t, err)
	assert.Len(t, loaded, 5)
	assert.Equal(t, clip.Shape(), loaded.Shape())

	limited, err := store.Load(ctx, path, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestDisplaySize(t *testing.T) {
	cases := []struct {
		w, h, rot    int
		wantW, wantH int
		wantRot      int
	}{
		{1920, 1080, 0, 1920, 1080, 0},
		{1920, 1080, 90, 1080, 1920, 90},
		{1920, 1080, -90, 1080, 1920, 270},
		{1920, 1080, 270, 1080, 1920, 270},
		{1920, 1080, 180, 1920, 1080, 180},
		{1920, 1080, -180, 1920, 1080, 180},
		{1920, 1080, 450, 1080, 1920, 90},
	}
	for _, c := range cases {
		w, h, rot := displaySize(c.w, c.h, c.rot)
		assert.Equal(t, []int{c.wantW, c.wantH, c.wantRot}, []int{w, h, rot}, "rotation %d", c.rot)
	}
}

// rotatedClip remuxes src with a 90 degree display rotation. It skips the
// test when the local ffmpeg cannot write rotation metadata.
func rotatedClip(t *testing.T, src string) string {
	t.Helper()
	dst := filepath.Join(filepath.Dir(src), "rotated.mp4")
	attempts := [][]string{
		{"-v", "error", "-y", "-display_rotation", "90", "-i", src, "-c", "copy", dst},
		{"-v", "error", "-y", "-i", src, "-c", "copy", "-metadata:s:v:0", "rotate=90", dst},
	}
	for _, args := range attempts {
		if err := exec.Command(DefaultFFmpegPath, args...).Run(); err == nil {
			info, err := New("", "").Probe(context.Background(), dst)
			if err == nil && info.Rotation != 0 {
				return dst
			}
		}
	}
	t.Skip("ffmpeg cannot tag rotation")
	return ""
}

// quarterTurnDiff compares a against b rotated a quarter turn, clockwise or
// counter-clockwise, and returns the closer of the two.
func quarterTurnDiff(a, b *image.RGBA) float64 {
	bw, bh := b.Bounds().Dx(), b.Bounds().Dy()
	var cw, ccw float64
	for y := 0; y < bw; y++ {
		for x := 0; x < bh; x++ {
			pa := a.RGBAAt(x, y)
			pcw := b.RGBAAt(y, bh-1-x)
			pccw := b.RGBAAt(bw-1-y, x)
			cw += absDiff(pa.R, pcw.R) + absDiff(pa.G, pcw.G)
			ccw += absDiff(pa.R, pccw.R) + absDiff(pa.G, pccw.G)
		}
	}
	n := float64(2 * bw * bh)
	return min(cw, ccw) / n
}

func absDiff(a, b uint8) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

func TestLoadRotatedSourceIsUpright(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	store := New("", "")
	plain := filepath.Join(t.TempDir(), "plain.mp4")
	clip := gradientClip(3, 48, 24)
	require.NoError(t, store.Save(ctx, clip, plain, 30))

	rotated := rotatedClip(t, plain)
	info, err := store.Probe(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, 24, info.Width)
	assert.Equal(t, 48, info.Height)

	loaded, err := store.Load(ctx, rotated, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, model.Shape{Height: 48, Width: 24, Channels: 3}, loaded.Shape())
	// a sheared read would scramble the gradient far beyond codec error
	assert.Less(t, quarterTurnDiff(loaded[0], clip[0]), 12.0)
}

func TestFrameRateFromSource(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	store := New("", "")
	path := filepath.Join(t.TempDir(), "pal.mp4")
	require.NoError(t, store.Save(ctx, gradientClip(4, 16, 16), path, 25))

	fps, err := store.FrameRate(ctx, path)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, fps, 0.01)
}
