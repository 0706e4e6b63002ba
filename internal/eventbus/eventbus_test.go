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

package eventbus

import (
	"testing"
	"time"

	"github.com/conductorbatch/core/pkg/batchcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesOnlyMatchingBatch(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe("batch-1")
	defer unsub()

	bus.Publish(batchcore.Event{Type: batchcore.EventBatchProgress, BatchID: "batch-2"})
	bus.Publish(batchcore.Event{Type: batchcore.EventBatchProgress, BatchID: "batch-1"})

	select {
	case ev := <-ch:
		assert.Equal(t, "batch-1", ev.BatchID)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe("batch-1")
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublish_DropsWhenSubscriberBufferFull(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe("batch-1")
	defer unsub()

	for i := 0; i < 200; i++ {
		bus.Publish(batchcore.Event{Type: batchcore.EventBatchProgress, BatchID: "batch-1"})
	}

	require.Eventually(t, func() bool { return len(ch) == cap(ch) }, time.Second, 10*time.Millisecond)
}
