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

package model

import "errors"

// Error taxonomy shared by every stage. Stages wrap these with the offending
// file or stage name; callers test for them with errors.Is.
var (
	// ErrSourceNotFound means an input video or anchor could not be opened or probed.
	ErrSourceNotFound = errors.New("source not found")
	// ErrEmptySequence means zero frames were available where at least one is required.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrUninitializedReuse means the decoder reached a reuse frame before any
	// keyframe was generated, which only happens with a bad keyframe interval.
	ErrUninitializedReuse = errors.New("reuse frame reached before any keyframe")
)
