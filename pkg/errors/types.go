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

package errors

import (
	"fmt"
)

// ValidationError represents user input validation failures.
// Use this for invalid binding configuration, malformed spreadsheets, or
// constraint violations caught before a task is ever dispatched.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "binding", "batch", "task")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "dispatcher.max_concurrent_tasks")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// RemoteErrorKind classifies a Remote Workflow Client failure into the
// retry-relevant taxonomy the Dispatcher acts on.
type RemoteErrorKind string

const (
	// KindValidation means the binding or request inputs were rejected
	// before the call was ever sent. Never retried.
	KindValidation RemoteErrorKind = "validation"
	// KindTransport means the call failed below the HTTP layer (DNS,
	// connection refused, TLS handshake). Retryable.
	KindTransport RemoteErrorKind = "transport"
	// KindTimeout means the per-call deadline elapsed. Retryable.
	KindTimeout RemoteErrorKind = "timeout"
	// KindRetryable means the remote endpoint returned a transient HTTP
	// status (429, 5xx). Retryable.
	KindRetryable RemoteErrorKind = "retryable"
	// KindPermanent means the remote endpoint returned a non-transient
	// 4xx status. Never retried.
	KindPermanent RemoteErrorKind = "permanent"
	// KindApplication means the workflow ran but reported a business
	// failure in its response body. Never retried.
	KindApplication RemoteErrorKind = "application"
	// KindAuth means the Authorizer could not produce valid credentials
	// for the call. Never retried.
	KindAuth RemoteErrorKind = "auth"
	// KindProtocol means the response body could not be parsed into the
	// expected shape. Never retried.
	KindProtocol RemoteErrorKind = "protocol"
	// KindCancelled means the batch or task context was cancelled before
	// or during the call. Never retried.
	KindCancelled RemoteErrorKind = "cancelled"
)

// Retryable reports whether the Dispatcher should attempt this kind again,
// subject to the task's remaining attempt budget.
func (k RemoteErrorKind) Retryable() bool {
	switch k {
	case KindTransport, KindTimeout, KindRetryable:
		return true
	default:
		return false
	}
}

// RemoteError is the typed error every Remote Workflow Client call returns
// on failure. The Dispatcher inspects Kind to decide whether to retry,
// and the Task Store persists Kind alongside the task's terminal state.
type RemoteError struct {
	// Kind classifies the failure for retry/terminal-state decisions.
	Kind RemoteErrorKind

	// BindingID identifies which workflow binding the call targeted.
	BindingID string

	// StatusCode is the HTTP status code, if the call reached the remote
	// endpoint at all.
	StatusCode int

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying error (network error, parse error, etc.).
	Cause error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote workflow call [%s] failed (%s)", e.BindingID, e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// BindingErrorKind classifies a Workflow Registry operation failure (the
// batch-level taxonomy of §4.1/§7), distinct from RemoteErrorKind's
// per-call retry classification.
type BindingErrorKind string

const (
	// BindingKindAuth means the remote endpoint rejected the binding's
	// credential (schema-fetch got a 401/403, or the Authorizer itself
	// failed).
	BindingKindAuth BindingErrorKind = "auth"
	// BindingKindUnreachable means the schema-fetch failed below the HTTP
	// layer or timed out.
	BindingKindUnreachable BindingErrorKind = "unreachable"
	// BindingKindProtocol means the schema-fetch response could not be
	// parsed, or the endpoint returned an unexpected non-auth error
	// status.
	BindingKindProtocol BindingErrorKind = "protocol"
	// BindingKindValidation means the binding's own fields were rejected
	// before any call was attempted.
	BindingKindValidation BindingErrorKind = "validation"
	// BindingKindInUse means a delete was refused because a non-terminal
	// batch still references the binding.
	BindingKindInUse BindingErrorKind = "in-use"
)

// BindingError is returned by Workflow Registry operations (create, sync,
// delete) that fail per §4.1's batch-level taxonomy.
type BindingError struct {
	Kind      BindingErrorKind
	BindingID string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *BindingError) Error() string {
	return fmt.Sprintf("binding %s: %s (%s)", e.BindingID, e.Message, e.Kind)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BindingError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts outside the remote-call path
// (e.g. a spreadsheet parse that exceeds a configured ceiling).
type TimeoutError struct {
	// Operation describes what timed out
	Operation string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out", e.Operation)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
