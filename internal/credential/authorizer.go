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

// RefType names the credential scheme a WorkflowBinding authenticates with.
type RefType string

const (
	// RefBearer sets a static "Authorization: Bearer <token>" header, the
	// token resolved from SecretRef through the Registry.
	RefBearer RefType = "bearer"

	// RefOAuth2ClientCredentials obtains a short-lived access token via the
	// OAuth2 client-credentials grant and refreshes it as it expires.
	RefOAuth2ClientCredentials RefType = "oauth2_client_credentials"

	// RefAWSSigV4 signs the request with AWS Signature Version 4, for
	// endpoints fronted by an AWS-signed API gateway.
	RefAWSSigV4 RefType = "aws_sigv4"
)

// Ref is the on-disk/registry representation of a binding's credential.
// Exactly the fields relevant to Type are populated; the rest are zero.
type Ref struct {
	Type RefType `yaml:"type" json:"type"`

	// SecretRef is used by RefBearer: a "scheme:key" reference resolved
	// through the Registry (e.g. "env:REMOTE_TOKEN", "keychain:prod-token").
	SecretRef string `yaml:"secretRef,omitempty" json:"secretRef,omitempty"`

	// OAuth2 fields, used by RefOAuth2ClientCredentials.
	TokenURL     string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecretRef string `yaml:"clientSecretRef,omitempty" json:"clientSecretRef,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// AWS SigV4 fields, used by RefAWSSigV4.
	Region  string `yaml:"region,omitempty" json:"region,omitempty"`
	Service string `yaml:"service,omitempty" json:"service,omitempty"`
	RoleARN string `yaml:"roleArn,omitempty" json:"roleArn,omitempty"`
}

// Authorizer decorates an outbound request with whatever authentication a
// WorkflowBinding's credential requires. Implementations must be safe for
// concurrent use: the Dispatcher may call Authorize from many workers at
// once for tasks sharing the same binding.
type Authorizer interface {
	// Authorize mutates req in place, adding headers or a signature.
	Authorize(ctx context.Context, req *http.Request) error
}

// Resolve builds the Authorizer a Ref's Type requires, wiring it to
// registry for any SecretRef it carries. An unsupported or malformed Ref
// fails fast rather than producing an Authorizer that errors on first use.
func Resolve(ref Ref, registry *Registry) (Authorizer, error) {
	switch ref.Type {
	case RefBearer:
		if ref.SecretRef == "" {
			return nil, fmt.Errorf("credential: bearer ref missing secretRef")
		}
		return &BearerAuthorizer{secretRef: ref.SecretRef, registry: registry}, nil
	case RefOAuth2ClientCredentials:
		if ref.TokenURL == "" || ref.ClientID == "" || ref.ClientSecretRef == "" {
			return nil, fmt.Errorf("credential: oauth2_client_credentials ref requires tokenUrl, clientId, and clientSecretRef")
		}
		return newOAuth2Authorizer(ref, registry)
	case RefAWSSigV4:
		if ref.Region == "" || ref.Service == "" {
			return nil, fmt.Errorf("credential: aws_sigv4 ref requires region and service")
		}
		return newSigV4Authorizer(ref)
	default:
		return nil, fmt.Errorf("credential: unsupported credential type %q", ref.Type)
	}
}
