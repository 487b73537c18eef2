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

package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// MemoryFrameStore keeps clips in memory by path. It satisfies the frame
// loader and saver contracts of the workflow and the evaluator, so the
// pipeline runs without ffmpeg.
type MemoryFrameStore struct {
	mu    sync.Mutex
	clips map[string]model.FrameSequence
	rates map[string]float64
}

func NewMemoryFrameStore() *MemoryFrameStore {
	return &MemoryFrameStore{
		clips: make(map[string]model.FrameSequence),
		rates: make(map[string]float64),
	}
}

// SetFrameRate records the native rate reported for path.
func (m *MemoryFrameStore) SetFrameRate(path string, fps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[path] = fps
}

// FrameRate returns the rate recorded for source, zero when none was set.
func (m *MemoryFrameStore) FrameRate(_ context.Context, source string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rates[source], nil
}

// Put registers seq under path.
func (m *MemoryFrameStore) Put(path string, seq model.FrameSequence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[path] = seq
}

// Clip returns what was stored under path.
func (m *MemoryFrameStore) Clip(path string) (model.FrameSequence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.clips[path]
	return seq, ok
}

// Paths lists every stored path.
func (m *MemoryFrameStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.clips))
	for p := range m.clips {
		out = append(out, p)
	}
	return out
}

func (m *MemoryFrameStore) Load(_ context.Context, source string, maxFrames int) (model.FrameSequence, error) {
	seq, ok := m.Clip(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceNotFound, source)
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrEmptySequence, source)
	}
	if maxFrames > 0 && len(seq) > maxFrames {
		seq = seq[:maxFrames]
	}
	return seq, nil
}

func (m *MemoryFrameStore) Save(_ context.Context, seq model.FrameSequence, destination string, frameRate float64) error {
	if len(seq) == 0 {
		return nil
	}
	m.SetFrameRate(destination, frameRate)
	out := make(model.FrameSequence, len(seq))
	for i, f := range seq {
		out[i] = model.CloneFrame(f)
	}
	m.Put(destination, out)
	return nil
}

// QuantizingEncoder stands in for a video codec: it copies a stored clip to
// the output path, quantizing pixel values more coarsely at lower bitrates.
type QuantizingEncoder struct {
	Store *MemoryFrameStore
}

func (q QuantizingEncoder) Encode(ctx context.Context, input string, bitrateKbps int, output string) error {
	seq, err := q.Store.Load(ctx, input, 0)
	if err != nil {
		return err
	}
	step := uint8(min(255, max(1, 256/max(bitrateKbps/8, 1))))
	out := make(model.FrameSequence, len(seq))
	for i, f := range seq {
		c := model.CloneFrame(f)
		for p := range c.Pix {
			if p%4 != 3 {
				c.Pix[p] = c.Pix[p] / step * step
			}
		}
		out[i] = c
	}
	q.Store.Put(output, out)
	return nil
}
