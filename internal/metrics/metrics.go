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

// Package metrics registers the dispatcher's prometheus counters and
// gauges: task outcomes, in-flight dispatch count, per-task duration,
// and retry counts by error kind.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_tasks_total",
			Help: "Total tasks that transitioned into a state, by batch and state",
		},
		[]string{"batch_id", "state"},
	)

	dispatchInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batch_dispatch_inflight",
			Help: "Tasks currently running for a batch",
		},
		[]string{"batch_id"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_task_duration_seconds",
			Help:    "Duration of a single task attempt's remote call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"batch_id"},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_retry_total",
			Help: "Total retries scheduled, by error kind",
		},
		[]string{"batch_id", "kind"},
	)

	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_retry_exhausted_total",
			Help: "Total tasks that failed after exhausting retries, by error kind",
		},
		[]string{"batch_id", "kind"},
	)
)

// TaskStateChanged increments the tasks-total counter for state, and
// tracks the in-flight gauge for "running" transitions in/out.
func TaskStateChanged(batchID, state string) {
	tasksTotal.WithLabelValues(batchID, state).Inc()
	switch state {
	case "running":
		dispatchInflight.WithLabelValues(batchID).Inc()
	case "succeeded", "failed", "cancelled":
		dispatchInflight.WithLabelValues(batchID).Dec()
	}
}

// StartTaskTimer begins timing one task attempt's remote call; the
// returned func records the observed duration when called.
func StartTaskTimer(batchID string) func() {
	start := time.Now()
	return func() {
		taskDuration.WithLabelValues(batchID).Observe(time.Since(start).Seconds())
	}
}

// RetryScheduled increments the retry counter for kind.
func RetryScheduled(batchID, kind string) {
	retryTotal.WithLabelValues(batchID, kind).Inc()
}

// RetryExhausted increments the retry-exhausted counter for kind.
func RetryExhausted(batchID, kind string) {
	retryExhaustedTotal.WithLabelValues(batchID, kind).Inc()
}
