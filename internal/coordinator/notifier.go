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

package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/conductorbatch/core/internal/dispatcher"
	"github.com/conductorbatch/core/internal/log"
	"github.com/conductorbatch/core/pkg/batchcore"
)

var _ dispatcher.StatusNotifier = (*batchNotifier)(nil)

// batchNotifier is the StatusNotifier the Coordinator hands each batch's
// Dispatcher. It keeps Counts current, renders terminal result text,
// publishes progress events (debounced per the batch's progress_tick),
// and triggers the Coordinator's automatic completion check.
type batchNotifier struct {
	c     *Coordinator
	run   *batchRun
	batch *batchcore.Batch
}

func (n *batchNotifier) TaskStarted(ctx context.Context, task *batchcore.Task) {
	n.c.publish(batchcore.Event{
		Type:    batchcore.EventTaskStarted,
		BatchID: n.batch.ID,
		TaskID:  task.ID,
		Time:    time.Now(),
	})
	n.c.refreshCounts(ctx, n.batch.ID)
	n.maybeEmitProgress(ctx)
}

func (n *batchNotifier) TaskSucceeded(ctx context.Context, task *batchcore.Task) {
	n.render(ctx, task)
	n.c.publish(batchcore.Event{
		Type:    batchcore.EventTaskSucceeded,
		BatchID: n.batch.ID,
		TaskID:  task.ID,
		Time:    time.Now(),
	})
	n.afterTerminal(ctx)
}

func (n *batchNotifier) TaskFailed(ctx context.Context, task *batchcore.Task) {
	n.c.publish(batchcore.Event{
		Type:      batchcore.EventTaskFailed,
		BatchID:   n.batch.ID,
		TaskID:    task.ID,
		ErrorKind: task.ErrorKind,
		Time:      time.Now(),
	})
	n.afterTerminal(ctx)
}

// render calls the ResultRenderer, if configured and the batch carries a
// result_template, and persists the rendered text as the task's Output.
// A renderer failure never fails the task itself — it falls back to the
// raw extracted output, already set by the Dispatcher.
func (n *batchNotifier) render(ctx context.Context, task *batchcore.Task) {
	if n.c.renderer == nil || n.batch.ResultTemplate == "" {
		return
	}
	rendered, err := n.c.renderer.Render(n.batch.ResultTemplate, task)
	if err != nil {
		n.c.logger.Warn("rendering result template", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	task.Output = rendered
	if err := n.c.store.UpdateTask(ctx, task); err != nil {
		n.c.logger.Error("persisting rendered result", slog.String(log.TaskIDKey, task.ID), log.Error(err))
	}
}

func (n *batchNotifier) afterTerminal(ctx context.Context) {
	n.c.refreshCounts(ctx, n.batch.ID)
	n.maybeEmitProgress(ctx)
	n.c.maybeComplete(ctx, n.batch.ID)
}

func (n *batchNotifier) maybeEmitProgress(ctx context.Context) {
	n.run.mu.Lock()
	tick := n.batch.ProgressTick
	if tick <= 0 {
		tick = 2 * time.Second
	}
	due := time.Since(n.run.lastProgress) >= tick
	if due {
		n.run.lastProgress = time.Now()
	}
	n.run.mu.Unlock()
	if !due {
		return
	}

	batch, err := n.c.store.GetBatch(ctx, n.batch.ID)
	if err != nil {
		return
	}
	n.c.publish(batchcore.Event{
		Type:    batchcore.EventBatchProgress,
		BatchID: n.batch.ID,
		State:   batch.State,
		Counts:  batch.Counts,
		Time:    time.Now(),
	})
}
