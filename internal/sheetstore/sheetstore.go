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

// Package sheetstore is a filesystem-backed batchcore.SheetStore: the
// reference implementation of the uploaded-workbook storage the core
// treats as an external collaborator (SPEC_FULL.md §1).
package sheetstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conductorbatch/core/pkg/batchcore"
)

var _ batchcore.SheetStore = (*Store)(nil)

// Store persists each batch's original workbook as "<root>/<batch_id>.xlsx".
// The batch ID is already a UUID assigned by the coordinator, so it
// doubles as both the storage key and the ref recorded on the batch.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sheetstore: creating root dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put writes raw atomically (temp file + rename, the way the teacher's
// file connector commits writes) so a crash mid-write never leaves a
// corrupt sheet behind for a later download or restart-recovery read.
func (s *Store) Put(ctx context.Context, batchID string, raw []byte) (string, error) {
	ref := batchID + ".xlsx"
	path, err := s.path(ref)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".sheet.*.tmp")
	if err != nil {
		return "", fmt.Errorf("sheetstore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(raw); err != nil {
		return "", fmt.Errorf("sheetstore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("sheetstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("sheetstore: committing %s: %w", ref, err)
	}
	return ref, nil
}

// Get returns the bytes previously stored under ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheetstore: reading %s: %w", ref, err)
	}
	return data, nil
}

// path resolves ref against root, rejecting anything that would escape
// it (ref is coordinator-assigned, never user input, but the containment
// check is the same one the teacher's file connector applies to every
// resolved path and costs nothing to keep).
func (s *Store) path(ref string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.root, ref))
	rel, err := filepath.Rel(s.root, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sheetstore: ref %q escapes storage root", ref)
	}
	return clean, nil
}
