package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"botgate/pkg/tenants"
)

func botWith(policies ...tenants.EndpointPolicy) tenants.Bot {
	return tenants.Bot{ID: "t1", EndpointPolicies: policies}
}

func TestPermittedOpenByDefault(t *testing.T) {
	bot := botWith(tenants.EndpointPolicy{Endpoint: "/refund", Roles: []string{"admin"}})

	// No entry for /orders: any caller, any roles, even none at all.
	assert.True(t, Permitted(bot, "/orders", nil))
	assert.True(t, Permitted(bot, "/orders", []string{"viewer"}))
	assert.True(t, Permitted(tenants.Bot{ID: "t1"}, "/refund", nil))
}

func TestPermittedRoleIntersection(t *testing.T) {
	bot := botWith(tenants.EndpointPolicy{Endpoint: "/refund", Roles: []string{"admin"}})

	assert.False(t, Permitted(bot, "/refund", []string{"viewer"}))
	assert.False(t, Permitted(bot, "/refund", nil))
	assert.True(t, Permitted(bot, "/refund", []string{"viewer", "admin"}))
}

func TestPermittedExactMatchOnly(t *testing.T) {
	bot := botWith(tenants.EndpointPolicy{Endpoint: "/refund", Roles: []string{"admin"}})

	// No wildcard semantics: a sub-path is a different endpoint and stays open.
	assert.True(t, Permitted(bot, "/refund/123", []string{"viewer"}))
}

func TestEvaluateWithoutRego(t *testing.T) {
	bot := botWith(tenants.EndpointPolicy{Endpoint: "/refund", Roles: []string{"admin"}})

	assert.True(t, Evaluate(context.Background(), bot, "/refund", []string{"admin"}))
	assert.False(t, Evaluate(context.Background(), bot, "/refund", []string{"support"}))
}

func TestEvaluateRegoNarrows(t *testing.T) {
	bot := botWith(tenants.EndpointPolicy{Endpoint: "/refund", Roles: []string{"admin"}})
	bot.RegoPolicy = `package botgate

default allow = false

allow {
	input.endpoint != "/refund"
}
`
	// Role check passes but the rego module blocks this endpoint.
	assert.False(t, Evaluate(context.Background(), bot, "/refund", []string{"admin"}))
}

func TestEvaluateRegoAllows(t *testing.T) {
	bot := tenants.Bot{ID: "t1", RegoPolicy: `package botgate

default allow = false

allow {
	input.roles[_] == "support"
}
`}
	assert.True(t, Evaluate(context.Background(), bot, "/orders", []string{"support"}))
	assert.False(t, Evaluate(context.Background(), bot, "/orders", []string{"viewer"}))
}

func TestEvaluateBrokenRegoDenies(t *testing.T) {
	bot := tenants.Bot{ID: "t1", RegoPolicy: "package botgate\nallow {"}
	assert.False(t, Evaluate(context.Background(), bot, "/orders", []string{"admin"}))
}
