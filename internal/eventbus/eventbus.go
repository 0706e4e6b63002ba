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

// Package eventbus is the reference batchcore.ProgressSubscriber: a
// per-batch channel fan-out, grounded on internal/daemon/runner's
// LogAggregator subscription routing (subscribe-by-ID, buffered
// channels, drop-on-full rather than block the publisher).
package eventbus

import (
	"sync"

	"github.com/conductorbatch/core/pkg/batchcore"
)

var _ batchcore.ProgressSubscriber = (*Bus)(nil)

// Bus fans batchcore.Event values out to per-batch subscriber channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan batchcore.Event
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]chan batchcore.Event)}
}

// Publish implements batchcore.ProgressSubscriber: it fans ev out to
// every subscriber of ev.BatchID. A subscriber whose buffer is full is
// skipped rather than blocking the coordinator/dispatcher goroutine
// that produced the event — a slow watcher never stalls a batch.
func (b *Bus) Publish(ev batchcore.Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.BatchID]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel that receives every Event published for
// batchID, and an unsubscribe function that must be called exactly
// once to release it.
func (b *Bus) Subscribe(batchID string) (<-chan batchcore.Event, func()) {
	ch := make(chan batchcore.Event, 100)

	b.mu.Lock()
	b.subscribers[batchID] = append(b.subscribers[batchID], ch)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[batchID]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[batchID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return ch, unsub
}
