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
	"log/slog"

	"github.com/jaycherian/gencomm-video/internal/core/cor"
)

// PersistLedger saves the run record to the local ledger. A nil store
// disables the command.
type PersistLedger struct {
	cor.BaseCommand
	store RunStore
}

// NewPersistLedger saves the run record to store; a nil store disables it.
func NewPersistLedger(name string, store RunStore) *PersistLedger {
	return &PersistLedger{BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamRun, ParamRun), store: store}
}

func (c *PersistLedger) IsExecutable(context cor.Context) bool {
	return c.store != nil && c.BaseCommand.IsExecutable(context)
}

func (c *PersistLedger) Execute(context cor.Context) {
	run := RunOf(context)
	if err := c.store.Save(context.GetContext(), run); err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.DebugContext(context.GetContext(), "run saved to ledger", "run", run.Id, "status", run.Status)
}
