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

// Package remoteclient implements the Remote Workflow Client: a single-
// shot, instance-per-call HTTP client bound to exactly one WorkflowBinding.
// Each call to Run builds its own *http.Client and transport so that no
// two concurrent tasks ever share connection state (§4.2's isolation
// rule) — the Dispatcher is the only caller that constructs a Client, and
// it constructs a fresh one per task.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/jq"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"github.com/conductorbatch/core/pkg/httpclient"
)

// reservedOutputKeys are stripped from a map output before join/flatten,
// per §4.2's output-extraction rule.
var reservedOutputKeys = map[string]bool{
	"id": true, "workflow_id": true, "status": true, "elapsed_time": true,
	"total_tokens": true, "total_steps": true, "created_at": true,
	"finished_at": true, "error": true,
}

const noOutputSentinel = "no output"

// RunResult is the Remote Workflow Client's single return shape.
type RunResult struct {
	ExternalRunID string
	Outputs       *OutputMap
	ElapsedMS     int64
	Status        string // "succeeded" | "failed"
	ErrorDetail   string
}

// OutputMap is a JSON object decoded with its member order preserved, so
// the join rule in §4.2(c) ("join its values in insertion order") is
// deterministic instead of depending on Go's randomized map iteration.
type OutputMap struct {
	Keys   []string
	Values map[string]any
}

func newOutputMap() *OutputMap {
	return &OutputMap{Values: map[string]any{}}
}

// singleton builds a one-key OutputMap, used for the "output"/"result"
// fallback fields which are not themselves JSON objects.
func singleton(key string, value any) *OutputMap {
	om := newOutputMap()
	om.set(key, value)
	return om
}

func (m *OutputMap) set(key string, value any) {
	if _, exists := m.Values[key]; !exists {
		m.Keys = append(m.Keys, key)
	}
	m.Values[key] = value
}

// Len reports the number of keys, treating a nil OutputMap as empty.
func (m *OutputMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Keys)
}

// toPlain converts m to a plain map[string]any (order no longer tracked),
// for handing to gojq, which only understands Go's built-in JSON types.
func (m *OutputMap) toPlain() map[string]any {
	if m == nil {
		return nil
	}
	plain := make(map[string]any, len(m.Keys))
	for _, k := range m.Keys {
		if nested, ok := m.Values[k].(*OutputMap); ok {
			plain[k] = nested.toPlain()
		} else {
			plain[k] = m.Values[k]
		}
	}
	return plain
}

// decodeOrderedValue parses raw as a single JSON value, decoding any
// object into an *OutputMap so member order survives. Arrays and scalars
// decode the same way encoding/json would decode into interface{}.
func decodeOrderedValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return decodeOrderedToken(dec)
}

func decodeOrderedToken(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		om := newOutputMap()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string object key, got %v", keyTok)
			}
			val, err := decodeOrderedToken(dec)
			if err != nil {
				return nil, err
			}
			om.set(key, val)
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return om, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeOrderedToken(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected JSON delimiter %q", delim)
	}
}

// Client is bound to one binding and one in-flight call. It must not be
// reused across concurrent tasks; construct one per Run.
type Client struct {
	bindingID      string
	baseURL        string
	authorizer     credential.Authorizer
	requestTimeout time.Duration
	userAgent      string
}

// New builds a Client for a single call against binding bindingID/baseURL,
// authorizing with authorizer and bounding the call to requestTimeout.
func New(bindingID, baseURL string, authorizer credential.Authorizer, requestTimeout time.Duration) *Client {
	return &Client{
		bindingID:      bindingID,
		baseURL:        baseURL,
		authorizer:     authorizer,
		requestTimeout: requestTimeout,
		userAgent:      "batchctl-remoteclient/1.0",
	}
}

// Run issues a single workflow-run request and maps the outcome to a
// RunResult or a typed *pkg/errors.RemoteError. ctx should already carry
// the task's own cancellable deadline (the Dispatcher derives it from the
// batch's cancellation context per §5); Run layers requestTimeout on top.
func (c *Client) Run(ctx context.Context, inputs map[string]string) (*RunResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"inputs":        inputs,
		"response_mode": "blocking",
	})
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, Message: "encoding request body", Cause: err}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/workflows/run", bytes.NewReader(body))
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, Message: "building request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if c.authorizer != nil {
		if err := c.authorizer.Authorize(callCtx, req); err != nil {
			return nil, &batcherrors.RemoteError{Kind: batcherrors.KindAuth, BindingID: c.bindingID, Message: "authorizing request", Cause: err}
		}
	}

	// Per-call client, minus pkg/httpclient's own retry layer: retry
	// belongs to the Dispatcher, one layer up, since only it knows the
	// task's attempts/max_attempts.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = c.requestTimeout
	httpCfg.RetryAttempts = 0
	httpCfg.UserAgent = c.userAgent
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, Message: "building http client", Cause: err}
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTimeout, BindingID: c.bindingID, Message: fmt.Sprintf("deadline exceeded after %s", elapsed), Cause: err}
		}
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTransport, BindingID: c.bindingID, Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTransport, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: "reading response body", Cause: err}
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		kind := err.(*batcherrors.RemoteError).Kind
		return nil, &batcherrors.RemoteError{Kind: kind, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	decoded, err := decodeOrderedValue(raw)
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: "malformed response body", Cause: err}
	}
	body2, ok := decoded.(*OutputMap)
	if !ok {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: "response body is not a JSON object"}
	}

	result := &RunResult{ElapsedMS: elapsed.Milliseconds(), Status: "succeeded"}
	if id, ok := body2.Values["id"].(string); ok {
		result.ExternalRunID = id
	} else if id, ok := body2.Values["run_id"].(string); ok {
		result.ExternalRunID = id
	}
	if status, ok := body2.Values["status"].(string); ok {
		result.Status = status
	}
	if detail, ok := body2.Values["error"].(string); ok {
		result.ErrorDetail = detail
	}
	if outputs, ok := body2.Values["outputs"].(*OutputMap); ok {
		result.Outputs = outputs
	} else if out, ok := body2.Values["output"]; ok {
		result.Outputs = singleton("output", out)
	} else if out, ok := body2.Values["result"]; ok {
		result.Outputs = singleton("result", out)
	}

	if result.Status == "failed" {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindApplication, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: result.ErrorDetail}
	}
	return result, nil
}

// classifyStatus maps an HTTP status code to §4.2's error-mapping table,
// returning nil for 2xx.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return &batcherrors.RemoteError{Kind: batcherrors.KindRetryable}
	case status >= 400:
		return &batcherrors.RemoteError{Kind: batcherrors.KindPermanent}
	default:
		return &batcherrors.RemoteError{Kind: batcherrors.KindProtocol}
	}
}

// ExtractResultText derives the displayable result string from a
// RunResult, per §4.2/§4.3's shared output-extraction rule: prefer
// outputs, descend once into a nested "outputs" map, join remaining
// values (filtering the reserved key set) with newlines, or fall back to
// the gojq query below for shapes the single-level descend misses.
func ExtractResultText(ctx context.Context, jqExec *jq.Executor, outputs *OutputMap) (string, error) {
	if outputs.Len() == 0 {
		return noOutputSentinel, nil
	}

	deeper := false
	for _, v := range outputs.Values {
		if _, ok := v.(*OutputMap); ok {
			deeper = true
		}
	}

	flat := outputs
	if nested, ok := outputs.Values["outputs"].(*OutputMap); ok {
		flat = nested
	} else if jqExec != nil && deeper {
		// `..` emits the top-level object first, so the first nested
		// object the query finds is its second result.
		if result, err := jqExec.Execute(ctx, `.outputs // .output // .result | .. | objects`, map[string]any{"outputs": outputs.toPlain()}); err == nil {
			if results, _ := result.([]any); len(results) < 2 {
				// no nested object found; keep the outputs as they are
			} else if nestedMap, ok := results[1].(map[string]any); ok && len(nestedMap) > 0 {
				// gojq hands back a plain map, so the keys it surfaces here
				// come back in Go's randomized order; this fallback path is
				// explicitly best-effort (§4.2, Open Question in §9).
				fallback := newOutputMap()
				for k, v := range nestedMap {
					fallback.set(k, v)
				}
				flat = fallback
			}
		}
	}

	return joinFiltered(flat), nil
}

func joinFiltered(values *OutputMap) string {
	var lines []string
	for _, k := range values.Keys {
		if reservedOutputKeys[k] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%v", values.Values[k]))
	}
	if len(lines) == 0 {
		return noOutputSentinel
	}
	return strings.Join(lines, "\n")
}
