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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveRoutesByScheme(t *testing.T) {
	t.Setenv("BATCHCORE_TEST_TOKEN", "s3cr3t")

	reg := NewRegistry()
	reg.Register(NewEnvBackend())

	value, err := reg.Resolve(context.Background(), "env:BATCHCORE_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)
}

func TestRegistry_ResolveUnknownScheme(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewEnvBackend())

	_, err := reg.Resolve(context.Background(), "vault:some-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend registered")
}

func TestRegistry_ResolveMalformedRef(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewEnvBackend())

	tests := []string{"", "no-scheme-here", "env:"}
	for _, ref := range tests {
		_, err := reg.Resolve(context.Background(), ref)
		assert.Error(t, err, "ref %q should fail to parse", ref)
	}
}

func TestRegistry_ResolveUnavailableBackend(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&FileBackend{path: "/nonexistent", available: false})

	_, err := reg.Resolve(context.Background(), "file:some-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantScheme string
		wantKey    string
		wantErr    bool
	}{
		{name: "simple", ref: "env:FOO", wantScheme: "env", wantKey: "FOO"},
		{name: "key with colons", ref: "keychain:prod:api-token", wantScheme: "keychain", wantKey: "prod:api-token"},
		{name: "empty", ref: "", wantErr: true},
		{name: "no scheme", ref: "FOO_BAR", wantErr: true},
		{name: "empty key", ref: "env:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheme, key, err := parseSecretRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScheme, scheme)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
