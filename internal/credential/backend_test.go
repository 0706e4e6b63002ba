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

func TestEnvBackend_Get(t *testing.T) {
	t.Setenv("BATCHCORE_ENV_BACKEND_TEST", "hello")

	b := NewEnvBackend()
	assert.Equal(t, "env", b.Scheme())
	assert.True(t, b.Available())

	value, err := b.Get(context.Background(), "BATCHCORE_ENV_BACKEND_TEST")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	_, err = b.Get(context.Background(), "BATCHCORE_ENV_BACKEND_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestEnvBackend_SetDeleteReadOnly(t *testing.T) {
	b := NewEnvBackend()
	assert.ErrorIs(t, b.Set(context.Background(), "X", "Y"), ErrReadOnlyBackend)
	assert.ErrorIs(t, b.Delete(context.Background(), "X"), ErrReadOnlyBackend)
}

func TestFileBackend_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BATCHCORE_MASTER_KEY", "test-master-key-0123456789")

	b, err := NewFileBackend("", dir, "")
	require.NoError(t, err)
	require.True(t, b.Available())

	ctx := context.Background()

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, b.Set(ctx, "api-token", "super-secret-value"))

	value, err := b.Get(ctx, "api-token")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", value)

	require.NoError(t, b.Delete(ctx, "api-token"))
	_, err = b.Get(ctx, "api-token")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestFileBackend_UnavailableWithoutMasterKey(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend("", dir, "")
	require.NoError(t, err)
	assert.False(t, b.Available())

	_, err = b.Get(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestFileBackend_WrongMasterKeyFailsToDecrypt(t *testing.T) {
	dir := t.TempDir()

	b1, err := NewFileBackend("", dir, "key-one-0123456789")
	require.NoError(t, err)
	require.NoError(t, b1.Set(context.Background(), "k", "v"))

	b2, err := NewFileBackend("", dir, "key-two-9876543210")
	require.NoError(t, err)
	_, err = b2.Get(context.Background(), "k")
	assert.Error(t, err)
}
