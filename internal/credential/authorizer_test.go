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

package credential

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Bearer(t *testing.T) {
	t.Setenv("BATCHCORE_BEARER_TEST", "tok-123")

	reg := NewRegistry()
	reg.Register(NewEnvBackend())

	auth, err := Resolve(Ref{Type: RefBearer, SecretRef: "env:BATCHCORE_BEARER_TEST"}, reg)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid/run", nil)
	require.NoError(t, auth.Authorize(context.Background(), req))
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
}

func TestResolve_BearerMissingSecretRef(t *testing.T) {
	_, err := Resolve(Ref{Type: RefBearer}, NewRegistry())
	require.Error(t, err)
}

func TestResolve_UnsupportedType(t *testing.T) {
	_, err := Resolve(Ref{Type: "unknown"}, NewRegistry())
	require.Error(t, err)
}

func TestResolve_OAuth2MissingFields(t *testing.T) {
	_, err := Resolve(Ref{Type: RefOAuth2ClientCredentials}, NewRegistry())
	require.Error(t, err)
}

func TestResolve_SigV4MissingFields(t *testing.T) {
	_, err := Resolve(Ref{Type: RefAWSSigV4}, NewRegistry())
	require.Error(t, err)
}
