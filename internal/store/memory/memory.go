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

// Package memory provides an in-memory store implementation, used for
// tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/pkg/batchcore"
)

var (
	_ store.BindingStore = (*Store)(nil)
	_ store.BatchStore   = (*Store)(nil)
	_ store.TaskStore    = (*Store)(nil)
	_ store.TaskLister   = (*Store)(nil)
	_ store.Store        = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	bindings map[string]*batchcore.Binding
	batches  map[string]*batchcore.Batch
	tasks    map[string]*batchcore.Task
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		bindings: make(map[string]*batchcore.Binding),
		batches:  make(map[string]*batchcore.Batch),
		tasks:    make(map[string]*batchcore.Task),
	}
}

func (s *Store) CreateBinding(ctx context.Context, b *batchcore.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bindings[b.ID]; exists {
		return fmt.Errorf("binding already exists: %s", b.ID)
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	s.bindings[b.ID] = &cp
	return nil
}

func (s *Store) GetBinding(ctx context.Context, id string) (*batchcore.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return nil, fmt.Errorf("binding not found: %s", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) UpdateBinding(ctx context.Context, b *batchcore.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.ID]; !ok {
		return fmt.Errorf("binding not found: %s", b.ID)
	}
	b.UpdatedAt = time.Now()
	cp := *b
	s.bindings[b.ID] = &cp
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, id)
	return nil
}

func (s *Store) ListBindings(ctx context.Context) ([]*batchcore.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*batchcore.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		cp := *b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateBatch(ctx context.Context, b *batchcore.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.ID]; exists {
		return fmt.Errorf("batch already exists: %s", b.ID)
	}
	b.CreatedAt = time.Now()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*batchcore.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b *batchcore.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return fmt.Errorf("batch not found: %s", b.ID)
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) ListBatches(ctx context.Context) ([]*batchcore.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*batchcore.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		cp := *b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CreateTask(ctx context.Context, t *batchcore.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task already exists: %s", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*batchcore.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *batchcore.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) ListTasks(ctx context.Context, batchID string, filter store.TaskFilter) ([]*batchcore.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*batchcore.Task
	for _, t := range s.tasks {
		if t.BatchID != batchID {
			continue
		}
		if filter.State != "" && t.State != filter.State {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) ListTasksOrdered(ctx context.Context, batchID string) ([]*batchcore.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*batchcore.Task
	for _, t := range s.tasks {
		if t.BatchID == batchID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SourceRowIndex < result[j].SourceRowIndex })
	return result, nil
}

func (s *Store) Close() error { return nil }
