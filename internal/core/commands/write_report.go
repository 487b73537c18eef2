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

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"gopkg.in/yaml.v3"
)

// WriteReport writes the run record as a YAML document. It runs for failed
// runs too, so the report says which stage broke.
type WriteReport struct {
	cor.BaseCommand
	path string
}

// NewWriteReport writes the run record as YAML to path; an empty path disables it.
func NewWriteReport(name string, path string) *WriteReport {
	return &WriteReport{BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamRun, ParamRun), path: path}
}

func (c *WriteReport) IsExecutable(context cor.Context) bool {
	return c.path != "" && c.BaseCommand.IsExecutable(context)
}

func (c *WriteReport) Execute(context cor.Context) {
	run := RunOf(context)
	out, err := os.Create(c.path)
	if err != nil {
		fail(c, context, fmt.Errorf("failed to create report %s: %w", c.path, err))
		return
	}
	defer out.Close()

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err = enc.Encode(run); err != nil {
		fail(c, context, fmt.Errorf("failed to write report %s: %w", c.path, err))
		return
	}
	if err = enc.Close(); err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "run report written", "path", c.path, "run", run.Id)
}
