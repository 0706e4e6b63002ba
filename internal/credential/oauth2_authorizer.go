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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Authorizer obtains and caches an access token via the OAuth2
// client-credentials grant, refreshing it transparently as it nears
// expiry. One Authorizer instance is shared across all calls for a given
// binding so the cached token is reused instead of re-fetched per task.
type OAuth2Authorizer struct {
	tokens oauth2.TokenSource
}

func newOAuth2Authorizer(ref Ref, registry *Registry) (*OAuth2Authorizer, error) {
	clientSecret, err := registry.Resolve(context.Background(), ref.ClientSecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolving oauth2 clientSecretRef %q: %w", ref.ClientSecretRef, err)
	}
	config := &clientcredentials.Config{
		ClientID:     ref.ClientID,
		ClientSecret: clientSecret,
		TokenURL:     ref.TokenURL,
		Scopes:       ref.Scopes,
	}
	return &OAuth2Authorizer{tokens: config.TokenSource(context.Background())}, nil
}

// Authorize fetches (or reuses a cached) access token and sets the
// Authorization header. The TokenSource built once per Authorizer keeps the
// token and fetches a new one only after it expires, so repeated calls
// within a token's lifetime are cheap.
func (o *OAuth2Authorizer) Authorize(ctx context.Context, req *http.Request) error {
	token, err := o.tokens.Token()
	if err != nil {
		return fmt.Errorf("fetching oauth2 client-credentials token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}
