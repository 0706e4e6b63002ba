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
	"sync"

	"github.com/conductorbatch/core/internal/queue"
)

// gatedQueue wraps a queue.ClaimQueue so pause/resume can stop workers
// from pulling new tasks without tearing down the dispatcher or losing
// its queued work, generalizing the teacher's draining atomic.Bool flag
// (internal/daemon/runner.Runner.StartDraining/IsDraining) into a
// two-state gate a worker blocks on, rather than one it only polls.
// In-flight claims are never affected — pause is advisory, per §5.
var _ queue.ClaimQueue = (*gatedQueue)(nil)

type gatedQueue struct {
	inner queue.ClaimQueue

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
}

func newGatedQueue(inner queue.ClaimQueue) *gatedQueue {
	return &gatedQueue{inner: inner}
}

func (g *gatedQueue) Enqueue(ctx context.Context, taskID string) error {
	return g.inner.Enqueue(ctx, taskID)
}

func (g *gatedQueue) Claim(ctx context.Context) (string, error) {
	for {
		g.mu.Lock()
		ch := g.resumeCh
		paused := g.paused
		g.mu.Unlock()

		if paused {
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return g.inner.Claim(ctx)
	}
}

func (g *gatedQueue) Len() int {
	return g.inner.Len()
}

func (g *gatedQueue) Close() error {
	return g.inner.Close()
}

// Pause stops future Claim calls from returning until Resume is called.
func (g *gatedQueue) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resumeCh = make(chan struct{})
}

// Resume unblocks any Claim calls waiting on a prior Pause.
func (g *gatedQueue) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumeCh)
}
