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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/sheet"
	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/internal/store/memory"
	"github.com/conductorbatch/core/pkg/batchcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", sheet.SheetName))
	for r, row := range rows {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet.SheetName, cell, val))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

// memorySheets is a trivial in-memory batchcore.SheetStore stand-in for
// the filesystem-backed internal/sheetstore implementation.
type memorySheets struct {
	mu    sync.Mutex
	blobs map[string][]byte
	n     int
}

func newMemorySheets() *memorySheets { return &memorySheets{blobs: make(map[string][]byte)} }

func (m *memorySheets) Put(ctx context.Context, batchID string, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	ref := batchID
	m.blobs[ref] = raw
	return ref, nil
}

func (m *memorySheets) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[ref], nil
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []batchcore.Event
}

func (s *recordingSubscriber) Publish(ev batchcore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSubscriber) last() batchcore.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return batchcore.Event{}
	}
	return s.events[len(s.events)-1]
}

func newTestCoordinator(t *testing.T, st *store.Store, subscriber *recordingSubscriber, sheets batchcore.SheetStore) *Coordinator {
	t.Helper()
	creds := credential.NewRegistry()
	creds.Register(credential.NewEnvBackend())
	return New(Config{
		Store:       *st,
		Credentials: creds,
		Subscriber:  subscriber,
		Sheets:      sheets,
		Defaults: Defaults{
			ConcurrencyLimit: 2,
			MaxAttempts:      3,
			RequestTimeout:   2 * time.Second,
			BaseDelay:        time.Millisecond,
			Multiplier:       2,
			MaxDelay:         10 * time.Millisecond,
			ProgressTick:     time.Millisecond,
		},
	})
}

func seedBinding(t *testing.T, ctx context.Context, st store.Store, baseURL string) *batchcore.Binding {
	t.Helper()
	t.Setenv("TEST_TOKEN", "secret")
	binding := &batchcore.Binding{
		ID:      "binding-1",
		Name:    "test binding",
		BaseURL: baseURL,
		Credential: credential.Ref{
			Type:      credential.RefBearer,
			SecretRef: "env:TEST_TOKEN",
		},
		Schema: &batchcore.Schema{
			Parameters: []batchcore.Parameter{
				{Name: "search_term", Required: true},
			},
		},
		Active: true,
	}
	require.NoError(t, st.CreateBinding(ctx, binding))
	return binding
}

func succeedingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "run-1",
			"status":  "succeeded",
			"outputs": map[string]any{"outputs": map[string]any{"result": "ok"}},
		})
	}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestCreate_RejectsSheetMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, "http://example.invalid")

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())

	raw := buildWorkbook(t, [][]string{
		{"search_term"},
		{""},
	})
	_, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.Error(t, err)
}

func TestCreate_MaterializesOneTaskPerRow(t *testing.T) {
	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, "http://example.invalid")

	sheets := newMemorySheets()
	c := newTestCoordinator(t, &st, &recordingSubscriber{}, sheets)

	raw := buildWorkbook(t, [][]string{
		{"search_term"},
		{"the term to search"},
		{"iPhone"},
		{"huawei"},
		{"xiaomi"},
	})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)
	assert.Equal(t, batchcore.BatchCreated, batch.State)
	assert.Equal(t, 2, batch.Counts.Total)
	assert.Equal(t, 1, sheets.n)

	tasks, err := c.ListTasks(ctx, batch.ID, store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestStartRunToCompletion(t *testing.T) {
	srv := succeedingServer(t)
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	subscriber := &recordingSubscriber{}
	c := newTestCoordinator(t, &st, subscriber, newMemorySheets())

	raw := buildWorkbook(t, [][]string{
		{"search_term"},
		{"the term to search"},
		{"iPhone"},
		{"huawei"},
	})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx, batch.ID))

	waitFor(t, 2*time.Second, func() bool {
		got, err := c.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})

	got, err := c.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Counts.Succeeded)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, batchcore.EventBatchStateChanged, subscriber.last().Type)
}

func TestStart_IsNoOpWhenAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "run-1", "status": "succeeded"})
	}))
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx, batch.ID))
	require.NoError(t, c.Start(ctx, batch.ID))

	got, err := c.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchcore.BatchRunning, got.State)

	require.NoError(t, c.Cancel(ctx, batch.ID))
}

func TestPauseStopsClaimsAndResumeContinues(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		b := blocked
		mu.Unlock()
		if b {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "run-1", "status": "succeeded",
			"outputs": map[string]any{"outputs": map[string]any{"result": "ok"}},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)
	batch.MaxAttempts = 100
	require.NoError(t, st.UpdateBatch(ctx, batch))

	require.NoError(t, c.Start(ctx, batch.ID))
	require.NoError(t, c.Pause(ctx, batch.ID))

	got, err := c.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchcore.BatchPaused, got.State)

	mu.Lock()
	blocked = false
	mu.Unlock()
	require.NoError(t, c.Resume(ctx, batch.ID))

	waitFor(t, 3*time.Second, func() bool {
		got, err := c.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})
}

func TestStartOnLivePausedBatchResumesExistingRunInPlace(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		b := blocked
		mu.Unlock()
		if b {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "run-1", "status": "succeeded",
			"outputs": map[string]any{"outputs": map[string]any{"result": "ok"}},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)
	batch.MaxAttempts = 100
	require.NoError(t, st.UpdateBatch(ctx, batch))

	require.NoError(t, c.Start(ctx, batch.ID))
	require.NoError(t, c.Pause(ctx, batch.ID))

	runBefore, ok := c.run(batch.ID)
	require.True(t, ok)

	// A live (same-process) paused batch started again via Start, not
	// Resume, must reuse the existing run rather than standing up a
	// second dispatcher+queue for it.
	require.NoError(t, c.Start(ctx, batch.ID))

	runAfter, ok := c.run(batch.ID)
	require.True(t, ok)
	assert.Same(t, runBefore, runAfter)

	mu.Lock()
	blocked = false
	mu.Unlock()

	waitFor(t, 3*time.Second, func() bool {
		got, err := c.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})
}

func TestCancel_MarksPendingTasksCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())
	raw := buildWorkbook(t, [][]string{
		{"search_term"}, {"d"}, {"iPhone"}, {"huawei"}, {"xiaomi"}, {"oppo"}, {"vivo"},
	})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx, batch.ID))

	// Only two workers (ConcurrencyLimit default 2) can be in flight against
	// the slow server; the rest stay pending for Cancel to mark directly.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Cancel(ctx, batch.ID))

	waitFor(t, 2*time.Second, func() bool {
		tasks, err := c.ListTasks(ctx, batch.ID, store.TaskFilter{State: batchcore.TaskCancelled})
		return err == nil && len(tasks) > 0
	})
}

func TestDownloadResult_OnlyValidOnceCompleted(t *testing.T) {
	srv := succeedingServer(t)
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	sheets := newMemorySheets()
	c := newTestCoordinator(t, &st, &recordingSubscriber{}, sheets)
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)

	_, err = c.DownloadResult(ctx, batch.ID)
	assert.Error(t, err)

	require.NoError(t, c.Start(ctx, batch.ID))
	waitFor(t, 2*time.Second, func() bool {
		got, err := c.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})

	out, err := c.DownloadResult(ctx, batch.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestBindingInUse_TrueUntilBatchTerminal(t *testing.T) {
	srv := succeedingServer(t)
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	c := newTestCoordinator(t, &st, &recordingSubscriber{}, newMemorySheets())
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)

	inUse, err := c.BindingInUse(ctx, "binding-1")
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, c.Start(ctx, batch.ID))
	waitFor(t, 2*time.Second, func() bool {
		got, err := c.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})

	inUse, err = c.BindingInUse(ctx, "binding-1")
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestRecover_ReDispatchesRunningBatch(t *testing.T) {
	srv := succeedingServer(t)
	defer srv.Close()

	ctx := context.Background()
	memStore := memory.New()
	defer memStore.Close()
	var st store.Store = memStore
	seedBinding(t, ctx, st, srv.URL)

	sheets := newMemorySheets()
	c := newTestCoordinator(t, &st, &recordingSubscriber{}, sheets)
	raw := buildWorkbook(t, [][]string{{"search_term"}, {"d"}, {"iPhone"}, {"huawei"}})
	batch, err := c.Create(ctx, CreateBatchRequest{BindingID: "binding-1", Sheet: raw})
	require.NoError(t, err)

	// Simulate a prior process that crashed mid-run: one task left
	// "running", the batch itself still marked "running", with no
	// in-process batchRun entry (a fresh Coordinator below has none).
	tasks, err := c.ListTasks(ctx, batch.ID, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	stuck := tasks[0]
	stuck.State = batchcore.TaskRunning
	stuck.Attempts = 1
	require.NoError(t, st.UpdateTask(ctx, stuck))

	batch.State = batchcore.BatchRunning
	require.NoError(t, st.UpdateBatch(ctx, batch))

	fresh := newTestCoordinator(t, &st, &recordingSubscriber{}, sheets)
	require.NoError(t, fresh.Recover(ctx))

	waitFor(t, 2*time.Second, func() bool {
		got, err := fresh.GetBatch(ctx, batch.ID)
		return err == nil && got.State == batchcore.BatchCompleted
	})

	got, err := fresh.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Counts.Succeeded)
}
