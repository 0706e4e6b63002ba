// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite store implementation for single-node
// deployments, selected with store.backend "sqlite" (the default backend
// is memory) so progress survives a process restart (§4.4's recovery
// semantics depend on this).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/pkg/batchcore"
	_ "modernc.org/sqlite"
)

var (
	_ store.BindingStore = (*Store)(nil)
	_ store.BatchStore   = (*Store)(nil)
	_ store.TaskStore    = (*Store)(nil)
	_ store.TaskLister   = (*Store)(nil)
	_ store.Store        = (*Store)(nil)
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New opens (creating and migrating if necessary) a SQLite store at cfg.Path.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("executing %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bindings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			base_url TEXT NOT NULL,
			credential TEXT NOT NULL,
			schema TEXT,
			synced_at TEXT,
			active INTEGER DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			binding_id TEXT NOT NULL,
			source_file_ref TEXT,
			state TEXT NOT NULL,
			counts TEXT,
			concurrency_limit INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			request_timeout_ms INTEGER NOT NULL,
			base_delay_ms INTEGER NOT NULL,
			multiplier REAL NOT NULL,
			max_delay_ms INTEGER NOT NULL,
			result_template TEXT,
			progress_tick_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			FOREIGN KEY (binding_id) REFERENCES bindings(id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			source_row_index INTEGER NOT NULL,
			inputs TEXT,
			state TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			external_run_id TEXT,
			output TEXT,
			error_kind TEXT,
			error_detail TEXT,
			started_at TEXT,
			finished_at TEXT,
			FOREIGN KEY (batch_id) REFERENCES batches(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch_state ON tasks(batch_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch_row ON tasks(batch_id, source_row_index)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- bindings ---

func (s *Store) CreateBinding(ctx context.Context, b *batchcore.Binding) error {
	credJSON, err := json.Marshal(b.Credential)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	schemaJSON, err := json.Marshal(b.Schema)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bindings (id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, nullString(b.Description), b.BaseURL, string(credJSON), string(schemaJSON),
		formatTime(b.SyncedAt), boolToInt(b.Active), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating binding: %w", err)
	}
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

func (s *Store) GetBinding(ctx context.Context, id string) (*batchcore.Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at
		FROM bindings WHERE id = ?`, id)
	return scanBinding(row)
}

func (s *Store) UpdateBinding(ctx context.Context, b *batchcore.Binding) error {
	credJSON, err := json.Marshal(b.Credential)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	schemaJSON, err := json.Marshal(b.Schema)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	b.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE bindings SET name=?, description=?, base_url=?, credential=?, schema=?, synced_at=?, active=?, updated_at=?
		WHERE id=?`,
		b.Name, nullString(b.Description), b.BaseURL, string(credJSON), string(schemaJSON),
		formatTime(b.SyncedAt), boolToInt(b.Active), b.UpdatedAt.Format(time.RFC3339), b.ID)
	if err != nil {
		return fmt.Errorf("updating binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("binding not found: %s", b.ID)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM bindings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}
	return nil
}

func (s *Store) ListBindings(ctx context.Context) ([]*batchcore.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at
		FROM bindings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing bindings: %w", err)
	}
	defer rows.Close()

	var result []*batchcore.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (*batchcore.Binding, error) {
	var b batchcore.Binding
	var description, credJSON, schemaJSON, syncedAt sql.NullString
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Name, &description, &b.BaseURL, &credJSON, &schemaJSON,
		&syncedAt, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("binding not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning binding: %w", err)
	}

	b.Description = description.String
	b.Active = active == 1
	if credJSON.Valid && credJSON.String != "" {
		if err := json.Unmarshal([]byte(credJSON.String), &b.Credential); err != nil {
			return nil, fmt.Errorf("unmarshaling credential: %w", err)
		}
	}
	if schemaJSON.Valid && schemaJSON.String != "" && schemaJSON.String != "null" {
		var schema batchcore.Schema
		if err := json.Unmarshal([]byte(schemaJSON.String), &schema); err != nil {
			return nil, fmt.Errorf("unmarshaling schema: %w", err)
		}
		b.Schema = &schema
	}
	if syncedAt.Valid {
		t, err := time.Parse(time.RFC3339, syncedAt.String)
		if err == nil {
			b.SyncedAt = &t
		}
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// --- batches ---

func (s *Store) CreateBatch(ctx context.Context, b *batchcore.Batch) error {
	countsJSON, err := json.Marshal(b.Counts)
	if err != nil {
		return fmt.Errorf("marshaling counts: %w", err)
	}
	b.CreatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (id, binding_id, source_file_ref, state, counts, concurrency_limit, max_attempts,
			request_timeout_ms, base_delay_ms, multiplier, max_delay_ms, result_template, progress_tick_ms,
			created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BindingID, nullString(b.SourceFileRef), string(b.State), string(countsJSON),
		b.ConcurrencyLimit, b.MaxAttempts, b.RequestTimeout.Milliseconds(), b.BaseDelay.Milliseconds(),
		b.Multiplier, b.MaxDelay.Milliseconds(), nullString(b.ResultTemplate), b.ProgressTick.Milliseconds(),
		b.CreatedAt.Format(time.RFC3339), formatTime(b.StartedAt), formatTime(b.FinishedAt))
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*batchcore.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, binding_id, source_file_ref, state, counts, concurrency_limit, max_attempts,
			request_timeout_ms, base_delay_ms, multiplier, max_delay_ms, result_template, progress_tick_ms,
			created_at, started_at, finished_at
		FROM batches WHERE id = ?`, id)
	return scanBatch(row)
}

func (s *Store) UpdateBatch(ctx context.Context, b *batchcore.Batch) error {
	countsJSON, err := json.Marshal(b.Counts)
	if err != nil {
		return fmt.Errorf("marshaling counts: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET state=?, counts=?, started_at=?, finished_at=? WHERE id=?`,
		string(b.State), string(countsJSON), formatTime(b.StartedAt), formatTime(b.FinishedAt), b.ID)
	if err != nil {
		return fmt.Errorf("updating batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch not found: %s", b.ID)
	}
	return nil
}

func (s *Store) ListBatches(ctx context.Context) ([]*batchcore.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, binding_id, source_file_ref, state, counts, concurrency_limit, max_attempts,
			request_timeout_ms, base_delay_ms, multiplier, max_delay_ms, result_template, progress_tick_ms,
			created_at, started_at, finished_at
		FROM batches ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var result []*batchcore.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBatch(row rowScanner) (*batchcore.Batch, error) {
	var b batchcore.Batch
	var sourceFileRef, countsJSON, resultTemplate, startedAt, finishedAt sql.NullString
	var state string
	var requestTimeoutMs, baseDelayMs, maxDelayMs, progressTickMs int64
	var createdAt string

	err := row.Scan(&b.ID, &b.BindingID, &sourceFileRef, &state, &countsJSON, &b.ConcurrencyLimit,
		&b.MaxAttempts, &requestTimeoutMs, &baseDelayMs, &b.Multiplier, &maxDelayMs, &resultTemplate,
		&progressTickMs, &createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning batch: %w", err)
	}

	b.SourceFileRef = sourceFileRef.String
	b.State = batchcore.BatchState(state)
	b.ResultTemplate = resultTemplate.String
	b.RequestTimeout = time.Duration(requestTimeoutMs) * time.Millisecond
	b.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	b.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	b.ProgressTick = time.Duration(progressTickMs) * time.Millisecond
	if countsJSON.Valid && countsJSON.String != "" {
		json.Unmarshal([]byte(countsJSON.String), &b.Counts)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err == nil {
			b.StartedAt = &t
		}
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			b.FinishedAt = &t
		}
	}
	return &b, nil
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *batchcore.Task) error {
	inputsJSON, err := json.Marshal(t.Inputs)
	if err != nil {
		return fmt.Errorf("marshaling inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, batch_id, source_row_index, inputs, state, attempts, max_attempts,
			external_run_id, output, error_kind, error_detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BatchID, t.SourceRowIndex, string(inputsJSON), string(t.State), t.Attempts, t.MaxAttempts,
		nullString(t.ExternalRunID), nullString(t.Output), nullString(t.ErrorKind), nullString(t.ErrorDetail),
		formatTime(t.StartedAt), formatTime(t.FinishedAt))
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*batchcore.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, source_row_index, inputs, state, attempts, max_attempts,
			external_run_id, output, error_kind, error_detail, started_at, finished_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) UpdateTask(ctx context.Context, t *batchcore.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state=?, attempts=?, external_run_id=?, output=?, error_kind=?, error_detail=?,
			started_at=?, finished_at=? WHERE id=?`,
		string(t.State), t.Attempts, nullString(t.ExternalRunID), nullString(t.Output),
		nullString(t.ErrorKind), nullString(t.ErrorDetail), formatTime(t.StartedAt), formatTime(t.FinishedAt), t.ID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, batchID string, filter store.TaskFilter) ([]*batchcore.Task, error) {
	query := `SELECT id, batch_id, source_row_index, inputs, state, attempts, max_attempts,
		external_run_id, output, error_kind, error_detail, started_at, finished_at
		FROM tasks WHERE batch_id = ?`
	args := []any{batchID}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) ListTasksOrdered(ctx context.Context, batchID string) ([]*batchcore.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, source_row_index, inputs, state, attempts, max_attempts,
			external_run_id, output, error_kind, error_detail, started_at, finished_at
		FROM tasks WHERE batch_id = ? ORDER BY source_row_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].SourceRowIndex < tasks[j].SourceRowIndex })
	return tasks, nil
}

func scanTasks(rows *sql.Rows) ([]*batchcore.Task, error) {
	var result []*batchcore.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTask(row rowScanner) (*batchcore.Task, error) {
	var t batchcore.Task
	var inputsJSON, externalRunID, output, errorKind, errorDetail, startedAt, finishedAt sql.NullString
	var state string

	err := row.Scan(&t.ID, &t.BatchID, &t.SourceRowIndex, &inputsJSON, &state, &t.Attempts, &t.MaxAttempts,
		&externalRunID, &output, &errorKind, &errorDetail, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	t.State = batchcore.TaskState(state)
	t.ExternalRunID = externalRunID.String
	t.Output = output.String
	t.ErrorKind = errorKind.String
	t.ErrorDetail = errorDetail.String
	if inputsJSON.Valid && inputsJSON.String != "" {
		json.Unmarshal([]byte(inputsJSON.String), &t.Inputs)
	}
	if startedAt.Valid {
		tm, err := time.Parse(time.RFC3339, startedAt.String)
		if err == nil {
			t.StartedAt = &tm
		}
	}
	if finishedAt.Valid {
		tm, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			t.FinishedAt = &tm
		}
	}
	return &t, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
