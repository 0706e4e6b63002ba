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

// Package batchcore defines the domain model shared by every component of
// the batch execution core: workflow bindings, batches, and the per-row
// tasks dispatched against a remote workflow endpoint.
package batchcore

import (
	"time"

	"github.com/conductorbatch/core/internal/credential"
)

// ParameterType is the scalar type a workflow parameter accepts.
type ParameterType string

const (
	ParamString    ParameterType = "string"
	ParamNumber    ParameterType = "number"
	ParamSelect    ParameterType = "select"
	ParamParagraph ParameterType = "paragraph"
	ParamFile      ParameterType = "file"
)

// Parameter describes one field of a workflow's input schema.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
	Default     string        `json:"default,omitempty"`
	Options     []string      `json:"options,omitempty"`
}

// Schema is the cached, authoritative description of a binding's inputs.
// It is used by row validation, template generation, and result assembly
// alike, and is never inferred from row content.
type Schema struct {
	Parameters []Parameter `json:"parameters"`
}

// Binding is a registered workflow endpoint: where to call it, how to
// authenticate, and the schema last synced from it.
type Binding struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	BaseURL     string             `json:"base_url"`
	Credential  credential.Ref     `json:"credential"`
	Schema      *Schema            `json:"schema,omitempty"`
	SyncedAt    *time.Time         `json:"synced_at,omitempty"`
	Active      bool               `json:"active"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// BatchState is the coordinator-owned lifecycle state of a Batch.
type BatchState string

const (
	BatchCreated    BatchState = "created"
	BatchRunning    BatchState = "running"
	BatchPaused     BatchState = "paused"
	BatchCancelling BatchState = "cancelling"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
)

// Counts is the aggregate per-state task tally for a Batch (invariant I4).
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Batch is one run of an input sheet against one binding.
type Batch struct {
	ID              string     `json:"id"`
	BindingID       string     `json:"binding_id"`
	SourceFileRef   string     `json:"source_file_ref"`
	State           BatchState `json:"state"`
	Counts          Counts     `json:"counts"`
	ConcurrencyLimit int       `json:"concurrency_limit"`
	MaxAttempts     int        `json:"max_attempts"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	BaseDelay       time.Duration `json:"base_delay"`
	Multiplier      float64    `json:"multiplier"`
	MaxDelay        time.Duration `json:"max_delay"`
	ResultTemplate  string     `json:"result_template,omitempty"`
	ProgressTick    time.Duration `json:"progress_tick"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// TaskState is the per-row lifecycle state of a Task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether s is one of the immutable terminal states
// (invariant I7).
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a single row's invocation against the remote workflow.
type Task struct {
	ID              string            `json:"id"`
	BatchID         string            `json:"batch_id"`
	SourceRowIndex  int               `json:"source_row_index"`
	Inputs          map[string]string `json:"inputs"`
	State           TaskState         `json:"state"`
	Attempts        int               `json:"attempts"`
	MaxAttempts     int               `json:"max_attempts"`
	ExternalRunID   string            `json:"external_run_id,omitempty"`
	Output          string            `json:"output,omitempty"`
	ErrorKind       string            `json:"error_kind,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// ResultCellText renders the diagnostic or success text written into the
// task's execution_result cell, per §7's "never blank" rule.
func (t *Task) ResultCellText() string {
	if t.State == TaskSucceeded {
		return t.Output
	}
	if t.ErrorKind != "" {
		return "[error:" + t.ErrorKind + "] " + t.ErrorDetail
	}
	return ""
}
