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

// Package store defines the persistence interfaces for bindings, batches,
// and tasks, segregated the way internal/controller/backend segregates
// run storage: a minimal interface per concern so a new backend can
// implement only what it needs.
package store

import (
	"context"
	"io"

	"github.com/conductorbatch/core/pkg/batchcore"
)

// BindingStore is the core interface for workflow binding storage.
type BindingStore interface {
	CreateBinding(ctx context.Context, b *batchcore.Binding) error
	GetBinding(ctx context.Context, id string) (*batchcore.Binding, error)
	UpdateBinding(ctx context.Context, b *batchcore.Binding) error
	DeleteBinding(ctx context.Context, id string) error
	ListBindings(ctx context.Context) ([]*batchcore.Binding, error)
}

// BatchStore is the core interface for batch storage.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *batchcore.Batch) error
	GetBatch(ctx context.Context, id string) (*batchcore.Batch, error)
	UpdateBatch(ctx context.Context, b *batchcore.Batch) error
	ListBatches(ctx context.Context) ([]*batchcore.Batch, error)
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	State batchcore.TaskState // empty matches all states
}

// TaskStore is the core interface for task storage. CreateTask is called
// once per task at batch materialization; UpdateTask is the only write
// path afterward, and the dispatcher is its sole caller for transitions
// out of "running" (§4.5).
type TaskStore interface {
	CreateTask(ctx context.Context, t *batchcore.Task) error
	GetTask(ctx context.Context, id string) (*batchcore.Task, error)
	UpdateTask(ctx context.Context, t *batchcore.Task) error
}

// TaskLister is an optional interface for listing tasks, indexed the way
// §6 requires: by (batch_id, state) for claim, and by (batch_id,
// source_row_index) for assembly. ListTasksOrdered returns tasks sorted
// ascending by SourceRowIndex; ListTasks does not guarantee order.
type TaskLister interface {
	ListTasks(ctx context.Context, batchID string, filter TaskFilter) ([]*batchcore.Task, error)
	ListTasksOrdered(ctx context.Context, batchID string) ([]*batchcore.Task, error)
}

// Store composes all segregated interfaces plus io.Closer for full-featured
// implementations (the in-memory and sqlite backends below).
type Store interface {
	BindingStore
	BatchStore
	TaskStore
	TaskLister
	io.Closer
}
