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

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
)

// PersistToBigQuery appends the run record to the experiment table.
type PersistToBigQuery struct {
	cor.BaseCommand
	client  *bigquery.Client
	dataset string
	table   string
}

// NewPersistToBigQuery writes the run record to dataset.table when client is set.
func NewPersistToBigQuery(name string, client *bigquery.Client, dataset string, table string) *PersistToBigQuery {
	return &PersistToBigQuery{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamRun, ParamRun),
		client:      client,
		dataset:     dataset,
		table:       table,
	}
}

func (c *PersistToBigQuery) IsExecutable(context cor.Context) bool {
	return c.client != nil && c.dataset != "" && c.table != "" && c.BaseCommand.IsExecutable(context)
}

func (c *PersistToBigQuery) Execute(context cor.Context) {
	run := RunOf(context)
	inserter := c.client.Dataset(c.dataset).Table(c.table).Inserter()
	if err := inserter.Put(context.GetContext(), run); err != nil {
		fail(c, context, fmt.Errorf("bigquery insert failed for run %s: %w", run.Id, err))
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "run persisted to bigquery", "run", run.Id, "table", c.dataset+"."+c.table)
}
