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
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeychainBackend resolves "keychain:" secretRef values from the local OS
// credential store (macOS Keychain, Secret Service / KWallet on Linux,
// Windows Credential Manager). Intended for batchctl run interactively on
// an operator's workstation, not for unattended/CI dispatch.
type KeychainBackend struct {
	service   string
	available bool
}

// NewKeychainBackend probes the keyring and reports availability up front,
// so the registry doesn't have to retry a dead backend on every resolve.
func NewKeychainBackend(service string) *KeychainBackend {
	b := &KeychainBackend{service: service, available: true}
	if _, err := keyring.Get(service, "__batchcore_probe__"); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		b.available = false
	}
	return b
}

// Scheme returns "keychain".
func (k *KeychainBackend) Scheme() string { return "keychain" }

// Available reports whether the OS keyring service responded to the probe.
func (k *KeychainBackend) Available() bool { return k.available }

// Get reads key from the OS keychain's "service" bucket.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", ErrBackendUnavailable
	}
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("keychain access error: %w", err)
	}
	return value, nil
}

// Set writes key to the OS keychain's "service" bucket.
func (k *KeychainBackend) Set(ctx context.Context, key, value string) error {
	if !k.available {
		return ErrBackendUnavailable
	}
	return keyring.Set(k.service, key, value)
}

// Delete removes key from the OS keychain's "service" bucket.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return ErrBackendUnavailable
	}
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return err
	}
	return nil
}
