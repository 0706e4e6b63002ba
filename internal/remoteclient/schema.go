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

package remoteclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"github.com/conductorbatch/core/pkg/httpclient"
)

type parameterWire struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description"`
	Default     string   `json:"default"`
	Options     []string `json:"options"`
}

// FetchSchema retrieves the binding's current parameter schema from
// GET {base_url}/parameters, used by the Workflow Registry on create and
// on explicit sync.
func (c *Client) FetchSchema(ctx context.Context) (*batchcore.Schema, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/parameters", nil)
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, Message: "building request", Cause: err}
	}

	if c.authorizer != nil {
		if err := c.authorizer.Authorize(callCtx, req); err != nil {
			return nil, &batcherrors.RemoteError{Kind: batcherrors.KindAuth, BindingID: c.bindingID, Message: "authorizing request", Cause: err}
		}
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = c.requestTimeout
	httpCfg.RetryAttempts = 0
	httpCfg.UserAgent = c.userAgent
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, Message: "building http client", Cause: err}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTimeout, BindingID: c.bindingID, Message: "deadline exceeded fetching schema", Cause: err}
		}
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTransport, BindingID: c.bindingID, Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindTransport, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: "reading schema body", Cause: err}
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		kind := err.(*batcherrors.RemoteError).Kind
		return nil, &batcherrors.RemoteError{Kind: kind, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var wire struct {
		Parameters []parameterWire `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &batcherrors.RemoteError{Kind: batcherrors.KindProtocol, BindingID: c.bindingID, StatusCode: resp.StatusCode, Message: "malformed schema body", Cause: err}
	}

	schema := &batchcore.Schema{Parameters: make([]batchcore.Parameter, 0, len(wire.Parameters))}
	for _, p := range wire.Parameters {
		schema.Parameters = append(schema.Parameters, batchcore.Parameter{
			Name:        p.Name,
			Type:        batchcore.ParameterType(p.Type),
			Required:    p.Required,
			Description: p.Description,
			Default:     p.Default,
			Options:     p.Options,
		})
	}
	return schema, nil
}
