// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists run history in a local SQLite database so past
// runs can be listed and inspected from the CLI.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one recorded dispatcher run.
type Run struct {
	ID        string    `json:"id"`
	Suite     string    `json:"suite"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	PassRate  float64   `json:"pass_rate"`
}

// Store manages persistent run history.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the history database. Use ":memory:" for
// an in-memory database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		suite TEXT NOT NULL,
		target TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		pass_rate REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_suite ON runs(suite);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		score REAL NOT NULL,
		result_json TEXT NOT NULL,

		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_run_id ON run_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_test_id ON run_results(test_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun records a completed run and its results in one transaction,
// returning the generated run id.
func (s *Store) SaveRun(ctx context.Context, suite, target string, startedAt time.Time, results []*eval.EvaluationResult) (string, error) {
	runID := uuid.NewString()

	passed := 0
	for _, r := range results {
		if r.Verdict == eval.VerdictPass {
			passed++
		}
	}
	total := len(results)
	passRate := 0.0
	if total > 0 {
		passRate = float64(passed) / float64(total)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, suite, target, started_at, total, passed, failed, pass_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, suite, target, startedAt.UTC(), total, passed, total-passed, passRate,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range results {
		resultJSON, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("failed to marshal result %s: %w", r.TestID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_results (run_id, test_id, attempt, verdict, score, result_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, r.TestID, r.Attempt, string(r.Verdict), r.Score, string(resultJSON),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert result %s: %w", r.TestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite, target, started_at, total, passed, failed, pass_rate
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Suite, &run.Target, &run.StartedAt,
			&run.Total, &run.Passed, &run.Failed, &run.PassRate); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// GetRun retrieves one run and its full results.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, []*eval.EvaluationResult, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, suite, target, started_at, total, passed, failed, pass_rate
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Suite, &run.Target, &run.StartedAt,
			&run.Total, &run.Passed, &run.Failed, &run.PassRate)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM run_results WHERE run_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*eval.EvaluationResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var result eval.EvaluationResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, &result)
	}
	return &run, results, rows.Err()
}

// DeleteOlderThan removes runs that started before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}
