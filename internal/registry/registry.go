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

// Package registry implements the Workflow Registry: CRUD over
// WorkflowBindings, schema sync against the remote endpoint, and the
// delete-rejected-while-in-use rule.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/remoteclient"
	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/pkg/batchcore"
	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"github.com/google/uuid"
)

// InUseChecker reports whether a binding has any non-terminal batch
// still referencing it, so Delete can refuse per spec.md's in-use rule.
type InUseChecker interface {
	BindingInUse(ctx context.Context, bindingID string) (bool, error)
}

// Registry manages the set of registered workflow bindings.
type Registry struct {
	store        store.BindingStore
	credentials  *credential.Registry
	inUse        InUseChecker
	schemaClient func(binding *batchcore.Binding) schemaFetcher
	logger       *slog.Logger
}

// schemaFetcher is the subset of *remoteclient.Client the registry needs
// to sync a binding's schema; narrowed to an interface so tests can stub
// it without standing up an httptest.Server.
type schemaFetcher interface {
	FetchSchema(ctx context.Context) (*batchcore.Schema, error)
}

// New builds a Registry backed by bindingStore, resolving credential
// secrets through credentials and checking in-use status through inUse.
func New(bindingStore store.BindingStore, credentials *credential.Registry, inUse InUseChecker) *Registry {
	r := &Registry{
		store:       bindingStore,
		credentials: credentials,
		inUse:       inUse,
		logger:      slog.Default().With(slog.String("component", "registry")),
	}
	r.schemaClient = func(binding *batchcore.Binding) schemaFetcher {
		authorizer, _ := credential.Resolve(binding.Credential, credentials)
		return remoteclient.New(binding.ID, binding.BaseURL, authorizer, 30*time.Second)
	}
	return r
}

// Create validates the endpoint by issuing a schema-fetch and, only on
// success, registers the binding with that schema already populated. A
// rejected credential or unreachable/malformed endpoint fails the create
// outright — per §4.1, a binding is never persisted without a schema.
func (r *Registry) Create(ctx context.Context, name, description, baseURL string, cred credential.Ref) (*batchcore.Binding, error) {
	now := time.Now()
	binding := &batchcore.Binding{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		BaseURL:     baseURL,
		Credential:  cred,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	schema, err := r.schemaClient(binding).FetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating binding endpoint: %w", classifyBindingError(binding.ID, err))
	}
	binding.Schema = schema
	binding.SyncedAt = &now

	if err := r.store.CreateBinding(ctx, binding); err != nil {
		return nil, fmt.Errorf("registering binding: %w", err)
	}

	return binding, nil
}

// Sync re-fetches a binding's parameter schema from its remote endpoint
// and persists it with a fresh SyncedAt timestamp.
func (r *Registry) Sync(ctx context.Context, bindingID string) error {
	binding, err := r.store.GetBinding(ctx, bindingID)
	if err != nil {
		return fmt.Errorf("loading binding %s: %w", bindingID, err)
	}

	schema, err := r.schemaClient(binding).FetchSchema(ctx)
	if err != nil {
		return classifyBindingError(bindingID, err)
	}

	now := time.Now()
	binding.Schema = schema
	binding.SyncedAt = &now
	binding.UpdatedAt = now
	return r.store.UpdateBinding(ctx, binding)
}

// classifyBindingError maps a schema-fetch failure onto §4.1's batch-level
// taxonomy: a credential rejection (RemoteErrorKind auth, or a permanent
// failure carrying a 401/403) becomes "auth"; anything that never reached
// the endpoint (transport/timeout) becomes "unreachable"; everything else
// (malformed body, unexpected status) becomes "protocol".
func classifyBindingError(bindingID string, err error) error {
	var remoteErr *batcherrors.RemoteError
	if !errors.As(err, &remoteErr) {
		return &batcherrors.BindingError{Kind: batcherrors.BindingKindUnreachable, BindingID: bindingID, Message: err.Error(), Cause: err}
	}

	switch remoteErr.Kind {
	case batcherrors.KindAuth:
		return &batcherrors.BindingError{Kind: batcherrors.BindingKindAuth, BindingID: bindingID, Message: remoteErr.Message, Cause: remoteErr}
	case batcherrors.KindTransport, batcherrors.KindTimeout:
		return &batcherrors.BindingError{Kind: batcherrors.BindingKindUnreachable, BindingID: bindingID, Message: remoteErr.Message, Cause: remoteErr}
	case batcherrors.KindPermanent:
		if remoteErr.StatusCode == http.StatusUnauthorized || remoteErr.StatusCode == http.StatusForbidden {
			return &batcherrors.BindingError{Kind: batcherrors.BindingKindAuth, BindingID: bindingID, Message: remoteErr.Message, Cause: remoteErr}
		}
		return &batcherrors.BindingError{Kind: batcherrors.BindingKindProtocol, BindingID: bindingID, Message: remoteErr.Message, Cause: remoteErr}
	default:
		return &batcherrors.BindingError{Kind: batcherrors.BindingKindProtocol, BindingID: bindingID, Message: remoteErr.Message, Cause: remoteErr}
	}
}

// Update changes the mutable fields of a binding (name, description,
// base URL, credential, active flag); it does not itself trigger a sync.
func (r *Registry) Update(ctx context.Context, bindingID string, mutate func(*batchcore.Binding)) (*batchcore.Binding, error) {
	binding, err := r.store.GetBinding(ctx, bindingID)
	if err != nil {
		return nil, fmt.Errorf("loading binding %s: %w", bindingID, err)
	}
	mutate(binding)
	binding.UpdatedAt = time.Now()
	if err := r.store.UpdateBinding(ctx, binding); err != nil {
		return nil, fmt.Errorf("updating binding %s: %w", bindingID, err)
	}
	return binding, nil
}

// Delete removes a binding, refusing if any non-terminal batch still
// references it.
func (r *Registry) Delete(ctx context.Context, bindingID string) error {
	if r.inUse != nil {
		inUse, err := r.inUse.BindingInUse(ctx, bindingID)
		if err != nil {
			return fmt.Errorf("checking binding %s in-use status: %w", bindingID, err)
		}
		if inUse {
			return &batcherrors.BindingError{Kind: batcherrors.BindingKindInUse, BindingID: bindingID, Message: "referenced by an active batch"}
		}
	}
	return r.store.DeleteBinding(ctx, bindingID)
}

// Get returns a single binding by ID.
func (r *Registry) Get(ctx context.Context, bindingID string) (*batchcore.Binding, error) {
	return r.store.GetBinding(ctx, bindingID)
}

// List returns every registered binding.
func (r *Registry) List(ctx context.Context) ([]*batchcore.Binding, error) {
	return r.store.ListBindings(ctx)
}
