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

// Package rendering is the reference implementation of
// batchcore.ResultRenderer: it evaluates a batch's result_template, a
// user-supplied expr-lang expression, against one terminal task's
// inputs and output. Rendering is an external collaborator per
// SPEC_FULL.md §1/§4.4 — the core depends only on the ResultRenderer
// interface; this package is wired in by the CLI.
package rendering

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
)

var _ batchcore.ResultRenderer = (*Renderer)(nil)

// Renderer evaluates result_template expressions, caching compiled
// programs the same way pkg/workflow/expression.Evaluator caches
// condition expressions, since result_template is re-evaluated once
// per terminal task and batches can run into the thousands of rows.
type Renderer struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New returns a Renderer with an empty compile cache.
func New() *Renderer {
	return &Renderer{cache: make(map[string]*vm.Program)}
}

// Render evaluates template against task's inputs, output, error_kind,
// error_detail, and source_row_index, and stringifies the result. An
// empty template is not expected to reach Render — the coordinator only
// calls it when Batch.ResultTemplate is non-empty — but is treated as
// an identity render of the raw output for robustness.
func (r *Renderer) Render(template string, task *batchcore.Task) (string, error) {
	if template == "" {
		return task.Output, nil
	}

	program, err := r.compile(template)
	if err != nil {
		return "", &batcherrors.ValidationError{
			Field:      "result_template",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced fields exist",
		}
	}

	env := map[string]any{
		"inputs":           stringMapToAny(task.Inputs),
		"output":           task.Output,
		"error_kind":       task.ErrorKind,
		"error_detail":     task.ErrorDetail,
		"source_row_index": task.SourceRowIndex,
		"attempts":         task.Attempts,
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return "", &batcherrors.ValidationError{
			Field:      "result_template",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced fields exist on the task",
		}
	}

	return fmt.Sprintf("%v", result), nil
}

func (r *Renderer) compile(template string) (*vm.Program, error) {
	r.mu.RLock()
	if prog, ok := r.cache[template]; ok {
		r.mu.RUnlock()
		return prog, nil
	}
	r.mu.RUnlock()

	env := map[string]any{
		"inputs":           map[string]any{},
		"output":           "",
		"error_kind":       "",
		"error_detail":     "",
		"source_row_index": 0,
		"attempts":         0,
	}
	program, err := expr.Compile(template, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[template] = program
	r.mu.Unlock()
	return program, nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
