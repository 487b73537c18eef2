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

package cor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcCommand struct {
	BaseCommand
	run func(Context)
}

func newFuncCommand(name string, run func(Context)) *funcCommand {
	return &funcCommand{BaseCommand: *NewBaseCommand(name), run: run}
}

// IsExecutable always runs; the chain tests feed inputs through the context.
func (f *funcCommand) IsExecutable(Context) bool { return true }

func (f *funcCommand) Execute(ctx Context) { f.run(ctx) }

func TestChainPipesOutputToInput(t *testing.T) {
	chain := NewBaseChain("pipe")
	chain.AddCommand(newFuncCommand("one", func(c Context) { c.Add(CtxOut, 1) }))
	chain.AddCommand(newFuncCommand("two", func(c Context) { c.Add(CtxOut, c.Get(CtxIn).(int)+1) }))
	var got int
	chain.AddCommand(newFuncCommand("three", func(c Context) { got = c.Get(CtxIn).(int) }))

	ctx := NewBaseContext()
	chain.Execute(ctx)
	assert.False(t, ctx.HasErrors())
	assert.Equal(t, 2, got)
}

func TestChainStopsOnFailure(t *testing.T) {
	ran := false
	chain := NewBaseChain("stop")
	chain.AddCommand(newFuncCommand("fail", func(c Context) { c.AddError("fail", errors.New("boom")) }))
	chain.AddCommand(newFuncCommand("after", func(Context) { ran = true }))

	ctx := NewBaseContext()
	chain.Execute(ctx)
	assert.False(t, ran)
	assert.Equal(t, []string{"fail"}, ctx.ErrorKeys())
}

func TestChainContinueOnFailure(t *testing.T) {
	ran := false
	chain := NewBaseChain("continue")
	chain.ContinueOnFailure(true)
	chain.AddCommand(newFuncCommand("fail", func(c Context) { c.AddError("fail", errors.New("boom")) }))
	chain.AddCommand(newFuncCommand("after", func(Context) { ran = true }))

	chain.Execute(NewBaseContext())
	assert.True(t, ran)
}

func TestChainSkipsCommandsWithoutInput(t *testing.T) {
	ran := false
	chain := NewBaseChain("skip")
	plain := &BaseCommandRunner{BaseCommand: *NewBaseCommand("needs-input").WithParams("missing", ""), run: func(Context) { ran = true }}
	chain.AddCommand(plain)

	ctx := NewBaseContext()
	chain.Execute(ctx)
	assert.False(t, ran)
	assert.False(t, ctx.HasErrors())
}

// BaseCommandRunner keeps BaseCommand's default IsExecutable.
type BaseCommandRunner struct {
	BaseCommand
	run func(Context)
}

func (b *BaseCommandRunner) Execute(ctx Context) { b.run(ctx) }

func TestChainHonoursCancellation(t *testing.T) {
	ran := false
	chain := NewBaseChain("cancel")
	chain.AddCommand(newFuncCommand("never", func(Context) { ran = true }))

	goCtx, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := NewBaseContext()
	ctx.SetContext(goCtx)
	chain.Execute(ctx)

	assert.False(t, ran)
	require.Contains(t, ctx.GetErrors(), "never")
	assert.ErrorIs(t, ctx.GetErrors()["never"], context.Canceled)
}

func TestContextCloseRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tmp")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	ctx := NewBaseContext()
	ctx.AddTempFile(a)
	ctx.AddTempFile(a)
	ctx.AddTempFile(filepath.Join(dir, "never-created.tmp"))
	assert.Len(t, ctx.GetTempFiles(), 2)

	ctx.Close()
	assert.NoFileExists(t, a)
	assert.Empty(t, ctx.GetTempFiles())
	ctx.Close()
}

func TestAddErrorJoinsRepeatedKeys(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	ctx := NewBaseContext()
	ctx.AddError("stage", first)
	ctx.AddError("stage", second)
	ctx.AddError("other", second)

	assert.Equal(t, []string{"stage", "other"}, ctx.ErrorKeys())
	assert.ErrorIs(t, ctx.GetErrors()["stage"], first)
	assert.ErrorIs(t, ctx.GetErrors()["stage"], second)
}
