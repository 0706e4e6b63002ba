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

package batchcore

import "time"

// EventType names one of the progress events the coordinator emits.
type EventType string

const (
	EventTaskStarted       EventType = "task_started"
	EventTaskSucceeded     EventType = "task_succeeded"
	EventTaskFailed        EventType = "task_failed"
	EventBatchStateChanged EventType = "batch_state_changed"
	EventBatchProgress     EventType = "batch_progress"
)

// Event is one progress notification for a batch. Ordering within a single
// TaskID is preserved (task_started precedes its terminal event); ordering
// across task IDs is not guaranteed.
type Event struct {
	Type      EventType  `json:"type"`
	BatchID   string     `json:"batch_id"`
	TaskID    string     `json:"task_id,omitempty"`
	State     BatchState `json:"state,omitempty"`
	Counts    Counts     `json:"counts,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Time      time.Time  `json:"time"`
}

// ProgressSubscriber is the fan-out interface the Batch Coordinator
// publishes events through. The core defines the interface only; a
// transport (HTTP/SSE, websocket, log sink) is an external collaborator.
type ProgressSubscriber interface {
	// Publish delivers ev to every subscriber of ev.BatchID. Implementations
	// must not block the coordinator on a slow or absent subscriber.
	Publish(ev Event)
}

// ResultRenderer renders a terminal task's displayable result text from a
// batch's result_template and the task's resolved inputs/output. The core
// ships only this interface; a concrete expr-lang-based implementation
// lives in internal/rendering, outside the core's scope boundary.
type ResultRenderer interface {
	Render(template string, task *Task) (string, error)
}
