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

package batchcore

import "context"

// SheetStore persists the raw bytes of an uploaded workbook so the
// coordinator can re-read the original layout at download time. The core
// ships only this interface; uploaded-file storage is an external
// collaborator per §1 — a filesystem-backed reference implementation
// lives in internal/sheetstore, outside the core's scope boundary.
type SheetStore interface {
	// Put stores raw and returns an opaque reference recorded on the
	// batch as SourceFileRef.
	Put(ctx context.Context, batchID string, raw []byte) (ref string, err error)

	// Get returns the bytes previously stored under ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}
