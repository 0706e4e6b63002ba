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
	"fmt"
	"regexp"
	"strings"
)

// schemeRef matches "scheme:key" secretRef syntax, e.g. "env:REMOTE_TOKEN".
var schemeRef = regexp.MustCompile(`^([a-z][a-z0-9]*):(.+)$`)

// Registry routes a WorkflowBinding's secretRef to the Backend registered
// for its scheme and resolves the secret value.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates an empty registry; call Register for each backend
// the deployment wants to support.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend, keyed by its Scheme(). Re-registering a scheme
// replaces the previous backend.
func (r *Registry) Register(b Backend) {
	r.backends[b.Scheme()] = b
}

// Resolve parses secretRef as "scheme:key" and resolves key through the
// backend registered for scheme.
func (r *Registry) Resolve(ctx context.Context, secretRef string) (string, error) {
	scheme, key, err := parseSecretRef(secretRef)
	if err != nil {
		return "", err
	}
	backend, ok := r.backends[scheme]
	if !ok {
		return "", fmt.Errorf("credential: no backend registered for scheme %q", scheme)
	}
	if !backend.Available() {
		return "", fmt.Errorf("credential: backend %q unavailable: %w", scheme, ErrBackendUnavailable)
	}
	return backend.Get(ctx, key)
}

// Backend returns the backend registered for scheme, or nil if none.
func (r *Registry) Backend(scheme string) Backend {
	return r.backends[scheme]
}

func parseSecretRef(ref string) (scheme, key string, err error) {
	if ref == "" {
		return "", "", fmt.Errorf("credential: empty secretRef")
	}
	m := schemeRef.FindStringSubmatch(ref)
	if m == nil {
		return "", "", fmt.Errorf("credential: secretRef %q missing scheme (expected scheme:key)", ref)
	}
	if strings.TrimSpace(m[2]) == "" {
		return "", "", fmt.Errorf("credential: empty key for scheme %q", m[1])
	}
	return m[1], m[2], nil
}
