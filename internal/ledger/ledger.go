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

// Package ledger keeps a local history of experiment runs in an embedded
// sqlite database, so runs can be listed and compared without BigQuery.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jaycherian/gencomm-video/internal/core/model"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("experiment run not found")

const schema = `
CREATE TABLE IF NOT EXISTS experiment_runs (
	id                    TEXT PRIMARY KEY,
	source                TEXT NOT NULL,
	reconstruction        TEXT NOT NULL DEFAULT '',
	chart                 TEXT NOT NULL DEFAULT '',
	reconstruction_uri    TEXT NOT NULL DEFAULT '',
	chart_uri             TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	failure               TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	shape                 TEXT NOT NULL DEFAULT '',
	frame_count           INTEGER NOT NULL DEFAULT 0,
	frame_rate            REAL NOT NULL DEFAULT 0,
	keyframe_interval     INTEGER NOT NULL DEFAULT 0,
	seed                  INTEGER NOT NULL DEFAULT 0,
	generations           INTEGER NOT NULL DEFAULT 0,
	reused_frames         INTEGER NOT NULL DEFAULT 0,
	description_bits      INTEGER NOT NULL DEFAULT 0,
	structure_bits        INTEGER NOT NULL DEFAULT 0,
	achieved_bitrate_kbps REAL NOT NULL DEFAULT 0,
	distortion            REAL NOT NULL DEFAULT 0,
	anchors               TEXT NOT NULL DEFAULT '[]',
	start_date            TEXT NOT NULL,
	end_date              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_experiment_runs_start ON experiment_runs(start_date);
`

const columns = `id, source, reconstruction, chart, reconstruction_uri, chart_uri, status, failure,
	description, shape, frame_count, frame_rate, keyframe_interval, seed, generations, reused_frames,
	description_bits, structure_bits, achieved_bitrate_kbps, distortion, anchors, start_date, end_date`

// Ledger is a sqlite-backed store of model.ExperimentRun records.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway ledger.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=10000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma on ledger %s: %w", path, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Save inserts run, replacing an earlier record with the same id.
func (l *Ledger) Save(ctx context.Context, run *model.ExperimentRun) error {
	anchors, err := json.Marshal(run.Anchors)
	if err != nil {
		return fmt.Errorf("failed to encode anchors: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO experiment_runs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Id, run.Source, run.Reconstruction, run.Chart, run.ReconstructionURI, run.ChartURI,
		run.Status, run.Failure, run.Description, run.Shape, run.FrameCount, run.FrameRate,
		run.KeyframeInterval, run.Seed, run.Generations, run.ReusedFrames,
		run.DescriptionBits, run.StructureBits, run.AchievedBitrateKbps, run.Distortion,
		string(anchors), formatTime(run.StartDate), formatTime(run.EndDate))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.Id, err)
	}
	return nil
}

// Get returns the run with the given id, or ErrRunNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*model.ExperimentRun, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+columns+` FROM experiment_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, newest first. A non-positive limit returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]*model.ExperimentRun, error) {
	query := `SELECT ` + columns + ` FROM experiment_runs ORDER BY start_date DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ExperimentRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*model.ExperimentRun, error) {
	var (
		run        model.ExperimentRun
		anchors    string
		start, end string
	)
	err := s.Scan(&run.Id, &run.Source, &run.Reconstruction, &run.Chart, &run.ReconstructionURI, &run.ChartURI,
		&run.Status, &run.Failure, &run.Description, &run.Shape, &run.FrameCount, &run.FrameRate,
		&run.KeyframeInterval, &run.Seed, &run.Generations, &run.ReusedFrames,
		&run.DescriptionBits, &run.StructureBits, &run.AchievedBitrateKbps, &run.Distortion,
		&anchors, &start, &end)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(anchors), &run.Anchors); err != nil {
		return nil, fmt.Errorf("run %s has corrupt anchors: %w", run.Id, err)
	}
	if run.StartDate, err = parseTime(start); err != nil {
		return nil, err
	}
	if run.EndDate, err = parseTime(end); err != nil {
		return nil, err
	}
	return &run, nil
}

// timeLayout keeps every fraction digit so stored dates sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
