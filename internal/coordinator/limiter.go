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

	"golang.org/x/time/rate"
)

// GlobalLimiter gates every batch's dispatcher workers behind one
// process-wide semaphore sized by max_concurrent_tasks (§4.5's global
// concurrency ceiling), so no single batch can starve the others and the
// process as a whole never exceeds its configured ceiling. It sits
// outside each batch's own concurrency_limit semaphore, which the
// Dispatcher already enforces by worker count.
type GlobalLimiter struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewGlobalLimiter builds a limiter admitting at most maxConcurrent
// in-flight calls process-wide, rate-limited to burstsPerSecond admits
// per second so a large batch starting up doesn't instantaneously claim
// every slot ahead of batches already in flight.
func NewGlobalLimiter(maxConcurrent int, burstsPerSecond float64) *GlobalLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if burstsPerSecond <= 0 {
		burstsPerSecond = float64(maxConcurrent)
	}
	return &GlobalLimiter{
		limiter: rate.NewLimiter(rate.Limit(burstsPerSecond), maxConcurrent),
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until both the token-bucket rate limiter admits the
// caller and a semaphore slot is free, or ctx is cancelled.
func (l *GlobalLimiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the semaphore slot acquired by Acquire.
func (l *GlobalLimiter) Release() {
	select {
	case <-l.sem:
	default:
	}
}
