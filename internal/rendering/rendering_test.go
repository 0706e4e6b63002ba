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

package rendering

import (
	"testing"

	"github.com/conductorbatch/core/pkg/batchcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_InterpolatesInputsAndOutput(t *testing.T) {
	r := New()
	task := &batchcore.Task{
		Inputs:         map[string]string{"search_term": "iPhone"},
		Output:         "5 results found",
		SourceRowIndex: 3,
	}

	got, err := r.Render(`inputs.search_term + ": " + output`, task)
	require.NoError(t, err)
	assert.Equal(t, "iPhone: 5 results found", got)
}

func TestRender_EmptyTemplateReturnsRawOutput(t *testing.T) {
	r := New()
	task := &batchcore.Task{Output: "raw"}

	got, err := r.Render("", task)
	require.NoError(t, err)
	assert.Equal(t, "raw", got)
}

func TestRender_InvalidExpressionErrors(t *testing.T) {
	r := New()
	task := &batchcore.Task{Output: "raw"}

	_, err := r.Render("inputs.(((", task)
	assert.Error(t, err)
}

func TestRender_CachesCompiledProgram(t *testing.T) {
	r := New()
	task := &batchcore.Task{Output: "x"}

	_, err := r.Render("output", task)
	require.NoError(t, err)
	assert.Len(t, r.cache, 1)

	_, err = r.Render("output", task)
	require.NoError(t, err)
	assert.Len(t, r.cache, 1)
}
