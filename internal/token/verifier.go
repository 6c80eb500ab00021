// internal/token/verifier.go
package token

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	jmes "github.com/jmespath/go-jmespath"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"botgate/pkg/faults"
)

// Principal is the outcome of verifying one bearer token. It lives for one
// request and is never cached or persisted; tokens may be short-lived and
// per-call audience-bound.
type Principal struct {
	Subject  string
	Roles    []string
	Audience []string
	Issuer   string
	Raw      string
}

// HasRole reports membership without exposing the raw slice to callers that
// only need a test.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// jwksCache caches JWKS sets per URL. Keys are effectively immutable per
// key-id; rotation introduces new ids, so a generous TTL is safe.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

// FetchFunc fetches a JWKS document; swapped out in tests.
type FetchFunc func(ctx context.Context, url string) (jwk.Set, error)

// Verifier validates bearer tokens against a tenant identity provider.
type Verifier struct {
	cache   jwksCache
	jwksTTL time.Duration
	skew    time.Duration
	fetch   FetchFunc
}

func NewVerifier(jwksTTL, skew time.Duration) *Verifier {
	return &Verifier{
		jwksTTL: jwksTTL,
		skew:    skew,
		fetch:   fetchWithRetry,
	}
}

// NewVerifierWithFetch injects a custom JWKS fetcher (tests, custom transports).
func NewVerifierWithFetch(jwksTTL, skew time.Duration, fetch FetchFunc) *Verifier {
	return &Verifier{jwksTTL: jwksTTL, skew: skew, fetch: fetch}
}

func fetchWithRetry(ctx context.Context, url string) (jwk.Set, error) {
	var set jwk.Set
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
	)
	err := r.Do(func() error {
		s, err := jwk.Fetch(ctx, url)
		if err != nil {
			return err
		}
		set = s
		return nil
	})
	return set, err
}

// JWKSURL builds the key-discovery URL for an issuer. The issuer is
// normalized to carry a trailing slash first; URL composition is string-exact
// and a bare issuer would otherwise point at the wrong document.
func JWKSURL(issuer string) string {
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer + ".well-known/jwks.json"
}

func (v *Verifier) keys(ctx context.Context, url string) (jwk.Set, error) {
	v.cache.mu.RLock()
	if e, ok := v.cache.sets[url]; ok && time.Now().Before(e.expires) {
		v.cache.mu.RUnlock()
		return e.set, nil
	}
	v.cache.mu.RUnlock()

	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	if v.cache.sets == nil {
		v.cache.sets = map[string]cachedJWKS{}
	}
	if e, ok := v.cache.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := v.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	v.cache.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(v.jwksTTL)}
	return set, nil
}

// Verify checks signature, issuer, audience and expiry of raw against the
// issuer's published keys, then extracts caller roles from the claim at
// rolesPath (a JMESPath into the claims document, default "roles").
// Every failure mode collapses to an auth_invalid fault; callers must not be
// able to distinguish a forged signature from a stale expiry.
func (v *Verifier) Verify(ctx context.Context, raw, issuer, audience, rolesPath string) (Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return Principal{}, faults.New(faults.AuthMissing, "bearer token required")
	}
	if issuer == "" {
		return Principal{}, faults.New(faults.AuthInvalid, "bot has no identity issuer configured")
	}
	set, err := v.keys(ctx, JWKSURL(issuer))
	if err != nil {
		return Principal{}, faults.Wrap(faults.AuthInvalid, "key discovery failed", err)
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithIssuer(issuer),
		jwt.WithValidate(true),
		jwt.WithVerify(true),
		jwt.WithAcceptableSkew(v.skew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	jt, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return Principal{}, faults.Wrap(faults.AuthInvalid, "invalid token", err)
	}
	return Principal{
		Subject:  jt.Subject(),
		Roles:    rolesFromClaims(jt, rolesPath),
		Audience: jt.Audience(),
		Issuer:   jt.Issuer(),
		Raw:      raw,
	}, nil
}

func rolesFromClaims(jt jwt.Token, rolesPath string) []string {
	if rolesPath == "" {
		rolesPath = "roles"
	}
	claims := map[string]any{
		"sub": jt.Subject(),
		"iss": jt.Issuer(),
	}
	for k, val := range jt.PrivateClaims() {
		claims[k] = val
	}
	found, err := jmes.Search(rolesPath, claims)
	if err != nil || found == nil {
		return nil
	}
	switch t := found.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		return strings.Fields(t)
	}
	return nil
}
