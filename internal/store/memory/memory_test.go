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

package memory

import (
	"context"
	"testing"

	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/pkg/batchcore"
	"github.com/stretchr/testify/require"
)

func TestStore_BatchAndTaskLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateBinding(ctx, &batchcore.Binding{ID: "b1", Name: "n", BaseURL: "u", Active: true}))
	require.NoError(t, s.CreateBatch(ctx, &batchcore.Batch{ID: "batch-1", BindingID: "b1", State: batchcore.BatchCreated}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTask(ctx, &batchcore.Task{
			ID: string(rune('a' + i)), BatchID: "batch-1", SourceRowIndex: 2 - i,
			State: batchcore.TaskPending, MaxAttempts: 3,
		}))
	}

	ordered, err := s.ListTasksOrdered(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, []int{ordered[0].SourceRowIndex, ordered[1].SourceRowIndex, ordered[2].SourceRowIndex})

	ordered[0].State = batchcore.TaskFailed
	ordered[0].ErrorKind = "permanent"
	require.NoError(t, s.UpdateTask(ctx, ordered[0]))

	failed, err := s.ListTasks(ctx, "batch-1", store.TaskFilter{State: batchcore.TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "permanent", failed[0].ErrorKind)
}

func TestStore_DuplicateCreateFails(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBinding(ctx, &batchcore.Binding{ID: "b1", Name: "n", BaseURL: "u"}))
	require.Error(t, s.CreateBinding(ctx, &batchcore.Binding{ID: "b1", Name: "n2", BaseURL: "u2"}))
}

func TestStore_GetMissingReturnsError(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.GetBatch(ctx, "nope")
	require.Error(t, err)
}
