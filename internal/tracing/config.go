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

// Package tracing provides per-batch/per-task OpenTelemetry spans and
// correlation ID propagation for the batch execution core.
package tracing

import "time"

// ExporterType selects where finished spans are sent.
type ExporterType string

const (
	// ExporterNone disables export; spans are created but dropped.
	ExporterNone ExporterType = "none"
	// ExporterStdout writes spans to stdout, for local runs of batchctl.
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPHTTP sends spans to an OTLP/HTTP collector.
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterOTLPGRPC sends spans to an OTLP/gRPC collector.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
)

// Config holds tracing configuration.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// ServiceName identifies this service in traces. Default: "batchcore".
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter selects the export destination.
	Exporter ExporterType

	// Endpoint is the OTLP collector address (host:port for gRPC,
	// host:port or full URL for HTTP). Unused for stdout/none.
	Endpoint string

	// Insecure disables TLS for the OTLP connection (local collectors).
	Insecure bool

	// Headers are additional headers sent with each OTLP export (auth tokens).
	Headers map[string]string

	// BatchTimeout is how often buffered spans are flushed. Default: 5s.
	BatchTimeout time.Duration
}

// DefaultConfig returns tracing disabled by default, matching the
// teacher's opt-in observability stance.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "batchcore",
		ServiceVersion: "dev",
		Exporter:       ExporterNone,
		BatchTimeout:   5 * time.Second,
	}
}
