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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // AES-256
	gcmNonceSize      = 12
)

// FileBackend stores bearer-token secret material in a JSON file encrypted
// with AES-256-GCM, keyed by an Argon2id-derived master key. It backs the
// "file:" secretRef scheme for single-node / CLI deployments that have no
// access to an OS keychain (headless CI runners, containers).
type FileBackend struct {
	path      string
	masterKey []byte
	mu        sync.RWMutex
	available bool
}

type encryptedPayload struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend opens (without yet reading) the encrypted credential store
// at path. If path is empty it defaults to <DataDir>/credentials.enc. The
// master key is resolved from masterKey, then BATCHCORE_MASTER_KEY, then a
// <DataDir>/master.key file; if none is found the backend is constructed
// but reports Available() == false rather than failing construction, so a
// registry with multiple backends can still start up.
func NewFileBackend(path, dataDir, masterKey string) (*FileBackend, error) {
	if path == "" {
		if dataDir == "" {
			dataDir = "."
		}
		path = filepath.Join(dataDir, "credentials.enc")
	}

	key, err := resolveMasterKey(masterKey, dataDir)
	if err != nil {
		return &FileBackend{path: path, available: false}, nil
	}

	b := &FileBackend{path: path, masterKey: key, available: true}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating credential store directory: %w", err)
	}
	return b, nil
}

// Scheme returns "file".
func (f *FileBackend) Scheme() string { return "file" }

// Available reports whether a master key was resolved.
func (f *FileBackend) Available() bool { return f.available }

// Get decrypts the store and returns the value for key.
func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if !f.available {
		return "", ErrBackendUnavailable
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	secrets, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", err
	}
	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set encrypts and persists key=value, creating the store if absent.
func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	if !f.available {
		return ErrBackendUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[key] = value
	return f.save(secrets)
}

// Delete removes key from the store.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if !f.available {
		return ErrBackendUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return err
	}
	if _, ok := secrets[key]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	delete(secrets, key)
	return f.save(secrets)
}

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var payload encryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid credential store format: %w", err)
	}

	key := argon2.IDKey(f.masterKey, payload.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential store (wrong master key?): %w", err)
	}
	defer zeroBytes(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("invalid decrypted credential payload: %w", err)
	}
	return secrets, nil
}

func (f *FileBackend) save(secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshaling secrets: %w", err)
	}
	defer zeroBytes(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("building GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	payload, err := json.Marshal(encryptedPayload{Salt: salt, Nonce: nonce, Data: ciphertext})
	if err != nil {
		return fmt.Errorf("marshaling encrypted payload: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("writing temp credential file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp credential file: %w", err)
	}
	return nil
}

func resolveMasterKey(provided, dataDir string) ([]byte, error) {
	if provided != "" {
		return []byte(provided), nil
	}
	if envKey := os.Getenv("BATCHCORE_MASTER_KEY"); envKey != "" {
		return []byte(envKey), nil
	}
	if dataDir != "" {
		if key, err := os.ReadFile(filepath.Join(dataDir, "master.key")); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("master key not available (set BATCHCORE_MASTER_KEY or create <data_dir>/master.key)")
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
