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
	"net/http"
)

// BearerAuthorizer sets a static "Authorization: Bearer <token>" header,
// resolving the token from a secretRef on every call so a rotated secret
// takes effect without restarting the process.
type BearerAuthorizer struct {
	secretRef string
	registry  *Registry
}

// Authorize resolves secretRef and sets the Authorization header.
func (b *BearerAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	token, err := b.registry.Resolve(ctx, b.secretRef)
	if err != nil {
		return fmt.Errorf("resolving bearer secretRef %q: %w", b.secretRef, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
