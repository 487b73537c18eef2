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

// Package cor (Chain of Responsibility) provides the building blocks the
// experiment workflow is assembled from: commands that each perform one
// stage, chains that run commands in order, and a context that carries the
// stage outputs, errors and temporary files of one run.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys a BaseChain pipes between consecutive
// commands: whatever a command leaves in CtxOut becomes the next CtxIn.
const (
	CtxIn  = "__IN__"
	CtxOut = "__OUT__"
)

// Context is the shared state of one workflow execution.
type Context interface {
	// SetContext sets the Go context used for cancellation and tracing.
	SetContext(context context.Context)

	// GetContext returns the current Go context.
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value interface{}) Context

	// AddError records err against key, normally the failing command's name.
	AddError(key string, err error)

	// GetErrors returns every recorded error keyed by command name.
	GetErrors() map[string]error

	// ErrorKeys returns the keys of GetErrors in the order they were recorded.
	ErrorKeys() []string

	Get(key string) interface{}

	Remove(key string)

	HasErrors() bool

	// AddTempFile registers a file to be deleted by Close.
	AddTempFile(file string)

	GetTempFiles() []string

	// Close deletes every registered temporary file. It is safe to call more
	// than once.
	Close()
}

// Executable is anything with a unit of work to run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one stage of a workflow.
type Command interface {
	Executable

	GetName() string

	// GetInputParam is the context key the command reads its main input from.
	GetInputParam() string

	// GetOutputParam is the context key the command writes its main output to.
	GetOutputParam() string

	// IsExecutable reports whether the command should run given the current
	// context. Chains skip commands that return false.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer

	GetMeter() metric.Meter

	GetSuccessCounter() metric.Int64Counter

	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered list of commands that is itself a Command, so chains
// can nest.
type Chain interface {
	Command

	// ContinueOnFailure controls whether later commands still run after one
	// records an error.
	ContinueOnFailure(bool) Chain

	AddCommand(command Command) Chain
}
