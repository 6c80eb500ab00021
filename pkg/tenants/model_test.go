package tenants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	ok := Bot{ID: "b1", UpstreamBaseURL: "https://api.acme.test", EndpointPolicies: []EndpointPolicy{
		{Endpoint: "/refund", Roles: []string{"admin"}},
	}}
	require.NoError(t, ok.Validate())

	cases := []struct {
		name string
		bot  Bot
	}{
		{"missing id", Bot{}},
		{"relative upstream", Bot{ID: "b1", UpstreamBaseURL: "api.acme.test/path"}},
		{"empty endpoint", Bot{ID: "b1", EndpointPolicies: []EndpointPolicy{{Endpoint: "", Roles: []string{"a"}}}}},
		{"no leading slash", Bot{ID: "b1", EndpointPolicies: []EndpointPolicy{{Endpoint: "refund", Roles: []string{"a"}}}}},
		{"no roles", Bot{ID: "b1", EndpointPolicies: []EndpointPolicy{{Endpoint: "/refund"}}}},
		{"duplicate endpoint", Bot{ID: "b1", EndpointPolicies: []EndpointPolicy{
			{Endpoint: "/refund", Roles: []string{"a"}},
			{Endpoint: "/refund", Roles: []string{"b"}},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.bot.Validate())
		})
	}
}

func TestPolicyFor(t *testing.T) {
	b := Bot{ID: "b1", EndpointPolicies: []EndpointPolicy{
		{Endpoint: "/refund", Roles: []string{"admin"}},
		{Endpoint: "/orders", Roles: []string{"support"}},
	}}

	p, ok := b.PolicyFor("/refund")
	require.True(t, ok)
	assert.Equal(t, []string{"admin"}, p.Roles)

	_, ok = b.PolicyFor("/unknown")
	assert.False(t, ok)
}
