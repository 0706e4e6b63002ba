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

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/store/memory"
	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInUseChecker struct {
	inUse map[string]bool
}

func (s stubInUseChecker) BindingInUse(ctx context.Context, bindingID string) (bool, error) {
	return s.inUse[bindingID], nil
}

func TestRegistry_CreateSyncsSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parameters", r.URL.Path)
		w.Write([]byte(`{"parameters":[{"name":"topic","type":"string","required":true}]}`))
	}))
	defer srv.Close()

	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	binding, err := reg.Create(context.Background(), "demo", "desc", srv.URL, credential.Ref{Type: credential.RefBearer, SecretRef: "env:DEMO_TOKEN"})
	require.NoError(t, err)
	require.NotNil(t, binding.Schema)
	require.Len(t, binding.Schema.Parameters, 1)
	assert.Equal(t, "topic", binding.Schema.Parameters[0].Name)
	assert.NotNil(t, binding.SyncedAt)
}

func TestRegistry_CreateFailsOnAuthRejectionAndDoesNotPersist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid credential"))
	}))
	defer srv.Close()

	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	_, err := reg.Create(context.Background(), "demo", "desc", srv.URL, credential.Ref{Type: credential.RefBearer, SecretRef: "env:DEMO_TOKEN"})
	require.Error(t, err)

	var bindingErr *batcherrors.BindingError
	require.ErrorAs(t, err, &bindingErr)
	assert.Equal(t, batcherrors.BindingKindAuth, bindingErr.Kind)

	bindings, listErr := reg.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, bindings)
}

func TestRegistry_CreateFailsUnreachableAndDoesNotPersist(t *testing.T) {
	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	_, err := reg.Create(context.Background(), "demo", "desc", "http://127.0.0.1:1", credential.Ref{})
	require.Error(t, err)

	var bindingErr *batcherrors.BindingError
	require.ErrorAs(t, err, &bindingErr)
	assert.Equal(t, batcherrors.BindingKindUnreachable, bindingErr.Kind)

	bindings, listErr := reg.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, bindings)
}

func TestRegistry_CreateFailsProtocolOnMalformedSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	_, err := reg.Create(context.Background(), "demo", "desc", srv.URL, credential.Ref{})
	require.Error(t, err)

	var bindingErr *batcherrors.BindingError
	require.ErrorAs(t, err, &bindingErr)
	assert.Equal(t, batcherrors.BindingKindProtocol, bindingErr.Kind)
}

func TestRegistry_DeleteRejectedWhileInUse(t *testing.T) {
	s := memory.New()
	reg := New(s, credential.NewRegistry(), stubInUseChecker{inUse: map[string]bool{"b1": true}})

	require.NoError(t, s.CreateBinding(context.Background(), &batchcore.Binding{ID: "b1", Name: "n", BaseURL: "http://x"}))
	err := reg.Delete(context.Background(), "b1")
	require.Error(t, err)
}

func TestRegistry_DeleteAllowedWhenNotInUse(t *testing.T) {
	s := memory.New()
	reg := New(s, credential.NewRegistry(), stubInUseChecker{inUse: map[string]bool{}})

	require.NoError(t, s.CreateBinding(context.Background(), &batchcore.Binding{ID: "b1", Name: "n", BaseURL: "http://x"}))
	require.NoError(t, reg.Delete(context.Background(), "b1"))

	_, err := reg.Get(context.Background(), "b1")
	assert.Error(t, err)
}

func TestRegistry_UpdateMutatesFields(t *testing.T) {
	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	require.NoError(t, s.CreateBinding(context.Background(), &batchcore.Binding{ID: "b1", Name: "old", BaseURL: "http://x", Active: true}))

	updated, err := reg.Update(context.Background(), "b1", func(b *batchcore.Binding) {
		b.Name = "new"
		b.Active = false
	})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Name)
	assert.False(t, updated.Active)
}

func TestRegistry_ListReturnsAllBindings(t *testing.T) {
	s := memory.New()
	reg := New(s, credential.NewRegistry(), nil)

	require.NoError(t, s.CreateBinding(context.Background(), &batchcore.Binding{ID: "b1", Name: "a", BaseURL: "http://x"}))
	require.NoError(t, s.CreateBinding(context.Background(), &batchcore.Binding{ID: "b2", Name: "b", BaseURL: "http://y"}))

	bindings, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, bindings, 2)
}
