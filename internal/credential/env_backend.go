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
	"os"
)

// EnvBackend resolves secretRef values of the form "env:VAR_NAME" from the
// process environment. It is read-only: Set/Delete would require mutating
// the process's own environment, which no binding operation needs.
type EnvBackend struct{}

// NewEnvBackend creates an environment-variable credential backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Scheme returns "env".
func (e *EnvBackend) Scheme() string { return "env" }

// Get reads the named environment variable.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: env var %s not set", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set always fails: the environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	return ErrReadOnlyBackend
}

// Delete always fails: the environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available always returns true; reading the environment never fails.
func (e *EnvBackend) Available() bool { return true }
