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

// Package coordinator implements the Batch Coordinator: the state
// machine over one batch's lifecycle (created/running/paused/cancelling/
// completed/failed), materializing tasks from a parsed sheet, starting
// and supervising the batch's Dispatcher, and the single writer of batch
// state transitions (§4.4). The Dispatcher remains the sole writer of
// task transitions out of "running".
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/dispatcher"
	"github.com/conductorbatch/core/internal/jq"
	"github.com/conductorbatch/core/internal/log"
	"github.com/conductorbatch/core/internal/queue"
	"github.com/conductorbatch/core/internal/sheet"
	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/internal/tracing"
	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults holds the batch-level configuration values filled in when a
// create_batch call omits them (§6's configuration-knobs list).
type Defaults struct {
	ConcurrencyLimit int
	MaxAttempts      int
	RequestTimeout   time.Duration
	BaseDelay        time.Duration
	Multiplier       float64
	MaxDelay         time.Duration
	ProgressTick     time.Duration
}

// DefaultDefaults mirrors internal/config's DispatcherConfig defaults,
// plus the per-batch knobs that configuration package does not cover.
func DefaultDefaults() Defaults {
	return Defaults{
		ConcurrencyLimit: 10,
		MaxAttempts:      3,
		RequestTimeout:   60 * time.Second,
		BaseDelay:        500 * time.Millisecond,
		Multiplier:       2,
		MaxDelay:         30 * time.Second,
		ProgressTick:     2 * time.Second,
	}
}

// Config bundles the Coordinator's dependencies.
type Config struct {
	Store         store.Store
	Credentials   *credential.Registry
	Subscriber    batchcore.ProgressSubscriber
	Renderer      batchcore.ResultRenderer
	Sheets        batchcore.SheetStore
	JQExecutor    *jq.Executor
	Tracer        trace.Tracer
	GlobalLimiter dispatcher.GlobalLimiter
	Logger        *slog.Logger
	Defaults      Defaults
}

// batchRun is the in-process runtime state for one non-terminal batch:
// its gated claim queue, the cancel func for its run context, and the
// tracing span covering its full lifetime.
type batchRun struct {
	mu           sync.Mutex
	queue        *gatedQueue
	cancel       context.CancelFunc
	span         *tracing.Span
	lastProgress time.Time
}

// Coordinator owns the batch state machine described in §4.4.
type Coordinator struct {
	store         store.Store
	credentials   *credential.Registry
	subscriber    batchcore.ProgressSubscriber
	renderer      batchcore.ResultRenderer
	sheets        batchcore.SheetStore
	jqExec        *jq.Executor
	tracer        trace.Tracer
	globalLimiter dispatcher.GlobalLimiter
	logger        *slog.Logger
	defaults      Defaults

	mu   sync.Mutex
	runs map[string]*batchRun
}

// New builds a Coordinator. Call Recover once at process startup to
// re-materialize any batch left in "running" by a prior process.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("coordinator")
	}
	if (cfg.Defaults == Defaults{}) {
		cfg.Defaults = DefaultDefaults()
	}
	return &Coordinator{
		store:         cfg.Store,
		credentials:   cfg.Credentials,
		subscriber:    cfg.Subscriber,
		renderer:      cfg.Renderer,
		sheets:        cfg.Sheets,
		jqExec:        cfg.JQExecutor,
		tracer:        cfg.Tracer,
		globalLimiter: cfg.GlobalLimiter,
		logger:        cfg.Logger,
		defaults:      cfg.Defaults,
		runs:          make(map[string]*batchRun),
	}
}

// CreateBatchRequest is the input to Create.
type CreateBatchRequest struct {
	BindingID        string
	Sheet            []byte
	ConcurrencyLimit int
	MaxAttempts      int
	ResultTemplate   string
}

// Create parses Sheet against the binding's schema, rejects it with a
// validation error listing row indices and field errors if any required
// parameter is missing, and otherwise materializes the batch and its
// tasks in "created" state.
func (c *Coordinator) Create(ctx context.Context, req CreateBatchRequest) (*batchcore.Batch, error) {
	binding, err := c.store.GetBinding(ctx, req.BindingID)
	if err != nil {
		return nil, fmt.Errorf("loading binding: %w", err)
	}
	if binding.Schema == nil {
		return nil, &batcherrors.ValidationError{Field: "binding_id", Message: "binding has no synced schema"}
	}

	rows, err := sheet.Parse(req.Sheet, binding.Schema)
	if err != nil {
		return nil, &batcherrors.ValidationError{Field: "sheet", Message: err.Error()}
	}
	if fieldErrs := validateRows(rows, binding.Schema); len(fieldErrs) > 0 {
		return nil, &batcherrors.ValidationError{Field: "sheet", Message: joinRowErrors(fieldErrs)}
	}

	now := time.Now()
	batchID := uuid.NewString()

	ref := ""
	if c.sheets != nil {
		ref, err = c.sheets.Put(ctx, batchID, req.Sheet)
		if err != nil {
			return nil, fmt.Errorf("storing source sheet: %w", err)
		}
	}

	batch := &batchcore.Batch{
		ID:               batchID,
		BindingID:        req.BindingID,
		SourceFileRef:    ref,
		State:            batchcore.BatchCreated,
		ConcurrencyLimit: firstPositive(req.ConcurrencyLimit, c.defaults.ConcurrencyLimit),
		MaxAttempts:      firstPositive(req.MaxAttempts, c.defaults.MaxAttempts),
		RequestTimeout:   c.defaults.RequestTimeout,
		BaseDelay:        c.defaults.BaseDelay,
		Multiplier:       c.defaults.Multiplier,
		MaxDelay:         c.defaults.MaxDelay,
		ResultTemplate:   req.ResultTemplate,
		ProgressTick:     c.defaults.ProgressTick,
		Counts:           batchcore.Counts{Total: len(rows), Pending: len(rows)},
		CreatedAt:        now,
	}
	if err := c.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	for _, row := range rows {
		task := &batchcore.Task{
			ID:             uuid.NewString(),
			BatchID:        batchID,
			SourceRowIndex: row.SourceRowIndex,
			Inputs:         row.Inputs,
			State:          batchcore.TaskPending,
			MaxAttempts:    batch.MaxAttempts,
		}
		if err := c.store.CreateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("creating task for row %d: %w", row.SourceRowIndex, err)
		}
	}

	return batch, nil
}

// Start transitions created|paused -> running and submits every pending
// task to a fresh Dispatcher. Starting an already-running batch is a
// no-op (P6).
func (c *Coordinator) Start(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}

	switch batch.State {
	case batchcore.BatchRunning:
		return nil
	case batchcore.BatchCreated, batchcore.BatchPaused:
	default:
		return &batcherrors.ValidationError{Field: "state", Message: fmt.Sprintf("cannot start batch in state %q", batch.State)}
	}

	wasCreated := batch.State == batchcore.BatchCreated

	if !wasCreated {
		if run, ok := c.run(batchID); ok {
			// A live run for this batch already exists in this process (it
			// was paused in place, not recovered after a restart): resume
			// it rather than building a second dispatcher+queue, which
			// would orphan this one's workers still blocked on the old
			// gated queue.
			run.queue.Resume()
			batch.State = batchcore.BatchRunning
			if err := c.store.UpdateBatch(ctx, batch); err != nil {
				return fmt.Errorf("persisting running transition: %w", err)
			}
			c.publishState(batch)
			return nil
		}
	}

	binding, err := c.store.GetBinding(ctx, batch.BindingID)
	if err != nil {
		return fmt.Errorf("loading binding: %w", err)
	}
	authorizer, err := credential.Resolve(binding.Credential, c.credentials)
	if err != nil {
		return fmt.Errorf("resolving credential: %w", err)
	}

	pending, err := c.pendingTaskIDs(ctx, batchID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &batchRun{
		queue:        newGatedQueue(queue.NewMemoryQueue()),
		cancel:       cancel,
		lastProgress: time.Now(),
	}
	if wasCreated {
		runCtx, run.span = tracing.StartBatchRun(runCtx, c.tracer, batchID)
	}

	c.mu.Lock()
	c.runs[batchID] = run
	c.mu.Unlock()

	for _, taskID := range pending {
		if err := run.queue.Enqueue(runCtx, taskID); err != nil {
			c.logger.Warn("enqueuing pending task", slog.String(log.TaskIDKey, taskID), log.Error(err))
		}
	}

	now := time.Now()
	batch.State = batchcore.BatchRunning
	if wasCreated {
		batch.StartedAt = &now
	}
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("persisting running transition: %w", err)
	}
	c.publishState(batch)

	policy := dispatcher.RetryPolicy{MaxAttempts: batch.MaxAttempts, BaseDelay: batch.BaseDelay, Multiplier: batch.Multiplier, MaxDelay: batch.MaxDelay}
	d := dispatcher.New(batch, binding, policy, dispatcher.Config{
		TaskStore:    c.store,
		ClaimQueue:   run.queue,
		Notifier:     &batchNotifier{c: c, run: run, batch: batch},
		GlobalLimit:  c.globalLimiter,
		Authorizer:   authorizer,
		JQExecutor:   c.jqExec,
		Tracer:       c.tracer,
		Logger:       log.WithBatch(c.logger, batchID),
		IsCancelling: func() bool { return c.isCancelling(batchID) },
	})

	go d.Run(runCtx)

	return nil
}

// Recover re-materializes every batch a prior process left in "running"
// at the moment it stopped. Tasks still marked "running" are reset to
// "pending" for re-dispatch rather than assumed lost: the remote call
// may have already completed, which is why external_run_id is persisted
// on first response even though it is not sufficient for dedup (§4.4,
// §8's restart-recovery note). Call this once at process startup,
// before accepting any other Coordinator calls.
func (c *Coordinator) Recover(ctx context.Context) error {
	batches, err := c.store.ListBatches(ctx)
	if err != nil {
		return fmt.Errorf("listing batches: %w", err)
	}

	lister, ok := c.store.(store.TaskLister)
	for _, batch := range batches {
		if batch.State != batchcore.BatchRunning {
			continue
		}
		if ok {
			running, err := lister.ListTasks(ctx, batch.ID, store.TaskFilter{State: batchcore.TaskRunning})
			if err != nil {
				c.logger.Error("listing running tasks during recovery", slog.String(log.BatchIDKey, batch.ID), log.Error(err))
			} else {
				for _, t := range running {
					t.State = batchcore.TaskPending
					if err := c.store.UpdateTask(ctx, t); err != nil {
						c.logger.Error("resetting task during recovery", slog.String(log.TaskIDKey, t.ID), log.Error(err))
					}
				}
			}
		}
		c.refreshCounts(ctx, batch.ID)

		// Start's switch treats "running" as already-started and no-ops;
		// mark it "paused" first so Start takes its resume path instead
		// of its fresh-start path (StartedAt is left untouched either way).
		batch.State = batchcore.BatchPaused
		if err := c.store.UpdateBatch(ctx, batch); err != nil {
			c.logger.Error("marking batch paused for recovery", slog.String(log.BatchIDKey, batch.ID), log.Error(err))
			continue
		}
		if err := c.Start(ctx, batch.ID); err != nil {
			c.logger.Error("restarting batch during recovery", slog.String(log.BatchIDKey, batch.ID), log.Error(err))
		}
	}
	return nil
}

// Pause stops the dispatcher from claiming new tasks. In-flight tasks
// run to a terminal state undisturbed (§4.4/§5's advisory-pause rule).
func (c *Coordinator) Pause(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}
	if batch.State != batchcore.BatchRunning {
		return &batcherrors.ValidationError{Field: "state", Message: fmt.Sprintf("cannot pause batch in state %q", batch.State)}
	}

	run, ok := c.run(batchID)
	if !ok {
		return fmt.Errorf("batch %s has no active run", batchID)
	}
	run.queue.Pause()

	batch.State = batchcore.BatchPaused
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("persisting paused transition: %w", err)
	}
	c.publishState(batch)
	return nil
}

// Resume reverses Pause.
func (c *Coordinator) Resume(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}
	if batch.State != batchcore.BatchPaused {
		return &batcherrors.ValidationError{Field: "state", Message: fmt.Sprintf("cannot resume batch in state %q", batch.State)}
	}

	run, ok := c.run(batchID)
	if !ok {
		return fmt.Errorf("batch %s has no active run", batchID)
	}
	run.queue.Resume()

	batch.State = batchcore.BatchRunning
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("persisting running transition: %w", err)
	}
	c.publishState(batch)
	return nil
}

// Cancel moves any non-terminal batch to "cancelling": the dispatcher
// stops claiming new work, in-flight calls are aborted via their
// per-call deadline context, and every task still pending is marked
// cancelled directly since it will never be claimed again. Cancelling
// an already-completed batch is a no-op (P6).
func (c *Coordinator) Cancel(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}

	switch batch.State {
	case batchcore.BatchCompleted, batchcore.BatchFailed, batchcore.BatchCancelling:
		return nil
	}

	batch.State = batchcore.BatchCancelling
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("persisting cancelling transition: %w", err)
	}
	c.publishState(batch)

	run, ok := c.run(batchID)
	if ok {
		run.queue.Resume()
		run.cancel()
	}

	if lister, ok := c.store.(store.TaskLister); ok {
		pending, err := lister.ListTasks(ctx, batchID, store.TaskFilter{State: batchcore.TaskPending})
		if err == nil {
			now := time.Now()
			for _, task := range pending {
				task.State = batchcore.TaskCancelled
				task.ErrorKind = string(batcherrors.KindCancelled)
				task.ErrorDetail = "batch cancelled"
				task.FinishedAt = &now
				if err := c.store.UpdateTask(ctx, task); err != nil {
					c.logger.Error("cancelling pending task", slog.String(log.TaskIDKey, task.ID), log.Error(err))
					continue
				}
				c.publish(batchcore.Event{Type: batchcore.EventTaskFailed, BatchID: batchID, TaskID: task.ID, ErrorKind: task.ErrorKind, Time: now})
			}
		}
	}

	c.refreshCounts(ctx, batchID)
	c.maybeComplete(ctx, batchID)
	return nil
}

// GetBatch returns the current state of a batch.
func (c *Coordinator) GetBatch(ctx context.Context, batchID string) (*batchcore.Batch, error) {
	return c.store.GetBatch(ctx, batchID)
}

// ListTasks returns a batch's tasks, optionally filtered by state.
func (c *Coordinator) ListTasks(ctx context.Context, batchID string, filter store.TaskFilter) ([]*batchcore.Task, error) {
	lister, ok := c.store.(store.TaskLister)
	if !ok {
		return nil, fmt.Errorf("store does not support task listing")
	}
	return lister.ListTasks(ctx, batchID, filter)
}

// DownloadResult assembles the original sheet with every task's result
// written at its source row index. Valid only once the batch is
// completed.
func (c *Coordinator) DownloadResult(ctx context.Context, batchID string) ([]byte, error) {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}
	if batch.State != batchcore.BatchCompleted {
		return nil, &batcherrors.ValidationError{Field: "state", Message: "download_result is only valid once a batch is completed"}
	}
	if c.sheets == nil {
		return nil, fmt.Errorf("no sheet store configured")
	}
	original, err := c.sheets.Get(ctx, batch.SourceFileRef)
	if err != nil {
		return nil, fmt.Errorf("loading source sheet: %w", err)
	}

	lister, ok := c.store.(store.TaskLister)
	if !ok {
		return nil, fmt.Errorf("store does not support task listing")
	}
	tasks, err := lister.ListTasksOrdered(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	entries := make([]sheet.ResultEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, sheet.ResultEntry{SourceRowIndex: t.SourceRowIndex, Text: t.ResultCellText()})
	}
	return sheet.Assemble(original, entries)
}

// BindingInUse implements registry.InUseChecker: a binding is in use if
// any batch referencing it has not reached a terminal state.
func (c *Coordinator) BindingInUse(ctx context.Context, bindingID string) (bool, error) {
	batches, err := c.store.ListBatches(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range batches {
		if b.BindingID != bindingID {
			continue
		}
		switch b.State {
		case batchcore.BatchCompleted, batchcore.BatchFailed:
		default:
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) isCancelling(batchID string) bool {
	batch, err := c.store.GetBatch(context.Background(), batchID)
	if err != nil {
		return false
	}
	return batch.State == batchcore.BatchCancelling
}

func (c *Coordinator) run(batchID string) (*batchRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[batchID]
	return run, ok
}

func (c *Coordinator) pendingTaskIDs(ctx context.Context, batchID string) ([]string, error) {
	lister, ok := c.store.(store.TaskLister)
	if !ok {
		return nil, fmt.Errorf("store does not support task listing")
	}
	tasks, err := lister.ListTasks(ctx, batchID, store.TaskFilter{State: batchcore.TaskPending})
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].SourceRowIndex < tasks[j].SourceRowIndex })
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids, nil
}

// refreshCounts recomputes a batch's Counts from its tasks and persists
// them. The Dispatcher writes task rows directly; the batch's own Counts
// field is coordinator-owned and kept current by this call on every
// lifecycle event.
func (c *Coordinator) refreshCounts(ctx context.Context, batchID string) {
	lister, ok := c.store.(store.TaskLister)
	if !ok {
		return
	}
	tasks, err := lister.ListTasks(ctx, batchID, store.TaskFilter{})
	if err != nil {
		return
	}
	counts := batchcore.Counts{Total: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case batchcore.TaskPending:
			counts.Pending++
		case batchcore.TaskRunning:
			counts.Running++
		case batchcore.TaskSucceeded:
			counts.Succeeded++
		case batchcore.TaskFailed:
			counts.Failed++
		case batchcore.TaskCancelled:
			counts.Cancelled++
		}
	}
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return
	}
	batch.Counts = counts
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		c.logger.Error("persisting counts", slog.String(log.BatchIDKey, batchID), log.Error(err))
	}
}

// maybeComplete implements the automatic running|cancelling -> completed
// transition once pending+running reaches zero.
func (c *Coordinator) maybeComplete(ctx context.Context, batchID string) {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return
	}
	if batch.State != batchcore.BatchRunning && batch.State != batchcore.BatchCancelling {
		return
	}
	if batch.Counts.Pending+batch.Counts.Running > 0 {
		return
	}

	now := time.Now()
	batch.State = batchcore.BatchCompleted
	batch.FinishedAt = &now
	if err := c.store.UpdateBatch(ctx, batch); err != nil {
		c.logger.Error("persisting completed transition", slog.String(log.BatchIDKey, batchID), log.Error(err))
		return
	}
	c.publishState(batch)

	c.mu.Lock()
	run, ok := c.runs[batchID]
	if ok {
		delete(c.runs, batchID)
	}
	c.mu.Unlock()
	if ok {
		run.queue.Resume()
		run.queue.Close()
		run.cancel()
		if run.span != nil {
			run.span.SetOK()
			run.span.End()
		}
	}
}

func (c *Coordinator) publishState(batch *batchcore.Batch) {
	c.publish(batchcore.Event{
		Type:    batchcore.EventBatchStateChanged,
		BatchID: batch.ID,
		State:   batch.State,
		Counts:  batch.Counts,
		Time:    time.Now(),
	})
}

func (c *Coordinator) publish(ev batchcore.Event) {
	if c.subscriber == nil {
		return
	}
	c.subscriber.Publish(ev)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func validateRows(rows []sheet.ParsedRow, schema *batchcore.Schema) []string {
	var errs []string
	for _, row := range rows {
		for _, p := range schema.Parameters {
			if !p.Required {
				continue
			}
			if row.Inputs[p.Name] == "" {
				errs = append(errs, fmt.Sprintf("row %d: missing required field %q", row.SourceRowIndex, p.Name))
			}
		}
	}
	return errs
}

func joinRowErrors(errs []string) string {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e
	}
	return msg
}
