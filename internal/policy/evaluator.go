// internal/policy/evaluator.go
package policy

import (
	"context"

	"github.com/open-policy-agent/opa/rego"

	"botgate/pkg/tenants"
)

// Permitted decides whether a caller holding roles may trigger endpoint.
//
// Lookup is by exact endpoint string; at most one entry can match. An
// endpoint with no entry is open: any caller is permitted. That default is
// deliberate tenant-facing behavior, not a fallback. With an entry present,
// any overlap between the caller's roles and the entry's roles permits.
//
// Pure function: no I/O, no clock.
func Permitted(bot tenants.Bot, endpoint string, roles []string) bool {
	entry, ok := bot.PolicyFor(endpoint)
	if !ok {
		return true
	}
	allowed := make(map[string]struct{}, len(entry.Roles))
	for _, r := range entry.Roles {
		allowed[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := allowed[r]; ok {
			return true
		}
	}
	return false
}

// Evaluate runs the full gate for one action: the role check above, then the
// bot's optional Rego module. The Rego gate is additive: it can only narrow
// what the role check permitted, never widen it, and an absent module changes
// nothing. Evaluation errors deny: a broken policy must not fail open.
func Evaluate(ctx context.Context, bot tenants.Bot, endpoint string, roles []string) bool {
	if !Permitted(bot, endpoint, roles) {
		return false
	}
	if bot.RegoPolicy == "" {
		return true
	}
	r := rego.New(
		rego.Query("data.botgate.allow"),
		rego.Module("policy.rego", bot.RegoPolicy),
		rego.Input(map[string]any{"endpoint": endpoint, "roles": roles}),
	)
	rs, err := r.Eval(ctx)
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed
}
