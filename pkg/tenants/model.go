// pkg/tenants/model.go
package tenants

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Bot is one registered business configuration plus its knowledge corpus.
type Bot struct {
	ID          string // uuid
	Slug        string // short name (acme)
	DisplayName string
	Persona     string // free text steering answer style
	PolicyText  string // business rules injected into every prompt

	// First-party API the dispatcher forwards authorized actions to.
	UpstreamBaseURL string

	// Identity provider the bot's end-user tokens are verified against.
	Issuer         string
	Audience       string
	RolesClaimPath string // JMESPath into verified claims, default "roles"

	// Per-endpoint role requirements. An endpoint with no entry is open:
	// any caller may trigger it. Deliberate default, see EndpointPolicy.
	EndpointPolicies []EndpointPolicy

	// Optional Rego module evaluated after the role check (data.botgate.allow).
	RegoPolicy string
}

// EndpointPolicy restricts who may trigger an action against one endpoint.
// Matching is by exact endpoint string; there is no wildcard form, so at most
// one entry applies. Absence of an entry means the endpoint is unrestricted.
type EndpointPolicy struct {
	Endpoint string   `json:"endpoint"`
	Methods  []string `json:"methods,omitempty"`
	Roles    []string `json:"roles"`
}

var ErrNotFound = errors.New("bot not found")

// Validate rejects malformed bot configs at registration time rather than
// letting request-time code trip over them.
func (b Bot) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("bot id required")
	}
	if b.UpstreamBaseURL != "" {
		u, err := url.Parse(b.UpstreamBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream_base_url must be an absolute URL")
		}
	}
	seen := map[string]bool{}
	for _, p := range b.EndpointPolicies {
		ep := strings.TrimSpace(p.Endpoint)
		if ep == "" {
			return fmt.Errorf("endpoint policy with empty endpoint")
		}
		if !strings.HasPrefix(ep, "/") {
			return fmt.Errorf("endpoint %q must start with /", ep)
		}
		if seen[ep] {
			return fmt.Errorf("duplicate endpoint policy for %q", ep)
		}
		seen[ep] = true
		if len(p.Roles) == 0 {
			return fmt.Errorf("endpoint policy for %q lists no roles", ep)
		}
	}
	return nil
}

// PolicyFor returns the single exact-match policy entry for endpoint, if any.
func (b Bot) PolicyFor(endpoint string) (EndpointPolicy, bool) {
	for _, p := range b.EndpointPolicies {
		if p.Endpoint == endpoint {
			return p, true
		}
	}
	return EndpointPolicy{}, false
}
