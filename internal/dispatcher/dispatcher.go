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

// Package dispatcher implements the bounded worker pool that drains one
// batch's pending tasks, calls the Remote Workflow Client with an
// isolated client per task, applies the retry/backoff policy, and
// transitions task state. The Dispatcher is the single writer of task
// state transitions out of "running" (§4.5); the Batch Coordinator owns
// everything that touches batch state.
package dispatcher

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/jq"
	"github.com/conductorbatch/core/internal/log"
	"github.com/conductorbatch/core/internal/metrics"
	"github.com/conductorbatch/core/internal/queue"
	"github.com/conductorbatch/core/internal/remoteclient"
	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/internal/tracing"
	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// StatusNotifier is the subset of events the Dispatcher needs to publish
// as it moves tasks through their lifecycle; the Batch Coordinator
// supplies one bound to its own batch.
type StatusNotifier interface {
	TaskStarted(ctx context.Context, task *batchcore.Task)
	TaskSucceeded(ctx context.Context, task *batchcore.Task)
	TaskFailed(ctx context.Context, task *batchcore.Task)
}

// RetryPolicy holds one batch's backoff parameters.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// BackoffFor computes the retry delay for the attempt just completed
// (1-indexed), per §4.5's formula with ±25% jitter.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if cap := float64(p.MaxDelay); raw > cap {
		raw = cap
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25)
	return time.Duration(raw * jitter)
}

// GlobalLimiter gates the second, process-wide semaphore that sits
// outside every batch's own concurrency_limit semaphore (§4.5's global
// concurrency ceiling).
type GlobalLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// Dispatcher drains one batch's pending tasks through a bounded pool of
// N workers.
type Dispatcher struct {
	batch        *batchcore.Batch
	binding      *batchcore.Binding
	authorizer   credential.Authorizer
	tasks        store.TaskStore
	claimQueue   queue.ClaimQueue
	policy       RetryPolicy
	notifier     StatusNotifier
	globalLimit  GlobalLimiter
	jqExec       *jq.Executor
	tracer       trace.Tracer
	isCancelling func() bool

	logger *slog.Logger
	wg     sync.WaitGroup
}

// Config bundles the dependencies a Dispatcher needs beyond the batch
// and binding it runs against.
type Config struct {
	TaskStore    store.TaskStore
	ClaimQueue   queue.ClaimQueue
	Notifier     StatusNotifier
	GlobalLimit  GlobalLimiter
	Authorizer   credential.Authorizer
	JQExecutor   *jq.Executor
	Tracer       trace.Tracer
	Logger       *slog.Logger
	IsCancelling func() bool
}

// New builds a Dispatcher for one batch run against one binding.
func New(batch *batchcore.Batch, binding *batchcore.Binding, policy RetryPolicy, cfg Config) *Dispatcher {
	if cfg.IsCancelling == nil {
		cfg.IsCancelling = func() bool { return false }
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("dispatcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		batch:        batch,
		binding:      binding,
		authorizer:   cfg.Authorizer,
		tasks:        cfg.TaskStore,
		claimQueue:   cfg.ClaimQueue,
		policy:       policy,
		notifier:     cfg.Notifier,
		globalLimit:  cfg.GlobalLimit,
		jqExec:       cfg.JQExecutor,
		tracer:       cfg.Tracer,
		isCancelling: cfg.IsCancelling,
		logger:       log.WithBatch(logger, batch.ID),
	}
}

// Run starts N workers and blocks until ctx is cancelled or the claim
// queue closes. Callers (the Coordinator) run this in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	n := d.batch.ConcurrencyLimit
	if n <= 0 {
		n = 10
	}
	d.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer d.wg.Done()
			d.workerLoop(ctx)
		}()
	}
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		taskID, err := d.claimQueue.Claim(ctx)
		if err != nil {
			return
		}

		if d.globalLimit != nil {
			if err := d.globalLimit.Acquire(ctx); err != nil {
				return
			}
		}
		d.processTask(ctx, taskID)
		if d.globalLimit != nil {
			d.globalLimit.Release()
		}
	}
}

func (d *Dispatcher) processTask(ctx context.Context, taskID string) {
	task, err := d.tasks.GetTask(ctx, taskID)
	if err != nil {
		d.logger.Error("loading claimed task", slog.String(log.TaskIDKey, taskID), log.Error(err))
		return
	}
	if task.State.IsTerminal() {
		return
	}

	if d.isCancelling() {
		d.markCancelled(ctx, task)
		return
	}

	ctx = tracing.WithCorrelationID(ctx, "")
	ctx, span := tracing.StartTask(ctx, d.tracer, task.ID, task.SourceRowIndex)
	defer span.End()

	now := time.Now()
	task.State = batchcore.TaskRunning
	task.Attempts++
	task.StartedAt = &now
	if err := d.tasks.UpdateTask(ctx, task); err != nil {
		span.RecordError(err)
		d.logger.Error("persisting running transition", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	metrics.TaskStateChanged(d.batch.ID, string(batchcore.TaskRunning))
	d.notifier.TaskStarted(ctx, task)

	client := remoteclient.New(d.binding.ID, d.binding.BaseURL, d.authorizer, d.batch.RequestTimeout)
	stopTimer := metrics.StartTaskTimer(d.batch.ID)
	result, callErr := client.Run(ctx, task.Inputs)
	stopTimer()

	if d.isCancelling() {
		d.markCancelled(ctx, task)
		return
	}

	if callErr != nil {
		span.RecordError(callErr)
		d.handleFailure(ctx, task, callErr)
		return
	}
	span.SetOK()
	d.handleSuccess(ctx, task, result)
}

func (d *Dispatcher) handleSuccess(ctx context.Context, task *batchcore.Task, result *remoteclient.RunResult) {
	text, err := remoteclient.ExtractResultText(ctx, d.jqExec, result.Outputs)
	if err != nil {
		text = "no output"
	}

	now := time.Now()
	task.State = batchcore.TaskSucceeded
	task.Output = text
	task.ExternalRunID = result.ExternalRunID
	task.ErrorKind = ""
	task.ErrorDetail = ""
	task.FinishedAt = &now

	if err := d.tasks.UpdateTask(ctx, task); err != nil {
		d.logger.Error("persisting success", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	metrics.TaskStateChanged(d.batch.ID, string(batchcore.TaskSucceeded))
	d.notifier.TaskSucceeded(ctx, task)
}

func (d *Dispatcher) handleFailure(ctx context.Context, task *batchcore.Task, callErr error) {
	var remoteErr *batcherrors.RemoteError
	kind := batcherrors.KindProtocol
	detail := callErr.Error()
	if asRemoteErr(callErr, &remoteErr) {
		kind = remoteErr.Kind
		detail = remoteErr.Message
	}

	if kind.Retryable() && task.Attempts < task.MaxAttempts {
		d.scheduleRetry(ctx, task, kind, detail)
		return
	}

	now := time.Now()
	task.State = batchcore.TaskFailed
	task.ErrorKind = string(kind)
	task.ErrorDetail = detail
	task.FinishedAt = &now

	if err := d.tasks.UpdateTask(ctx, task); err != nil {
		d.logger.Error("persisting failure", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	metrics.TaskStateChanged(d.batch.ID, string(batchcore.TaskFailed))
	metrics.RetryExhausted(d.batch.ID, string(kind))
	d.notifier.TaskFailed(ctx, task)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, task *batchcore.Task, kind batcherrors.RemoteErrorKind, detail string) {
	task.State = batchcore.TaskPending
	task.ErrorKind = string(kind)
	task.ErrorDetail = detail

	if err := d.tasks.UpdateTask(ctx, task); err != nil {
		d.logger.Error("persisting retry transition", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	metrics.RetryScheduled(d.batch.ID, string(kind))

	delay := d.policy.BackoffFor(task.Attempts)
	go func(taskID string) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if err := d.claimQueue.Enqueue(context.Background(), taskID); err != nil {
			d.logger.Warn("re-enqueuing retried task", slog.String(log.TaskIDKey, taskID), log.Error(err))
		}
	}(task.ID)
}

func (d *Dispatcher) markCancelled(ctx context.Context, task *batchcore.Task) {
	if task.State.IsTerminal() {
		return
	}
	now := time.Now()
	task.State = batchcore.TaskCancelled
	task.ErrorKind = string(batcherrors.KindCancelled)
	task.ErrorDetail = "batch cancelled"
	task.FinishedAt = &now

	if err := d.tasks.UpdateTask(ctx, task); err != nil {
		d.logger.Error("persisting cancellation", slog.String(log.TaskIDKey, task.ID), log.Error(err))
		return
	}
	metrics.TaskStateChanged(d.batch.ID, string(batchcore.TaskCancelled))
	d.notifier.TaskFailed(ctx, task)
}

func asRemoteErr(err error, target **batcherrors.RemoteError) bool {
	if remoteErr, ok := err.(*batcherrors.RemoteError); ok {
		*target = remoteErr
		return true
	}
	return false
}
