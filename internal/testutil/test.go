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

// Package test provides fixtures shared by the test suites: a cached test
// configuration, synthetic clips and storage notifications.
package test

import (
	"image"
	"image/color"
	"log"
	"os"
	"testing"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

type StateManager struct {
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test when err is set.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// SetupOS points the configuration loader at the test overrides.
func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and caches it.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}

// SyntheticClip returns n frames of a bright square sliding across a
// horizontal gradient. The square gives Canny a strong closed contour and the
// motion makes consecutive frames differ.
func SyntheticClip(n, w, h int) model.FrameSequence {
	seq := make(model.FrameSequence, n)
	side := max(min(w, h)/3, 2)
	for i := range seq {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		x0 := (i * 2) % max(w-side, 1)
		y0 := (h - side) / 2
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.RGBA{R: uint8(x * 120 / w), G: 40, B: uint8(y * 120 / h), A: 255}
				if x >= x0 && x < x0+side && y >= y0 && y < y0+side {
					c = color.RGBA{R: 250, G: 240, B: 230, A: 255}
				}
				img.SetRGBA(x, y, c)
			}
		}
		seq[i] = img
	}
	return seq
}

// SolidFrame returns a w x h frame filled with c.
func SolidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// GetTestUploadMessageText simulates the storage notification sent when a
// clip lands in the input bucket.
func GetTestUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "gencomm_input_clips/test-clip-001.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/gencomm_input_clips/o/test-clip-001.mp4",
  "name": "test-clip-001.mp4",
  "bucket": "gencomm_input_clips",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "2593480",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}
