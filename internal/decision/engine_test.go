package decision

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/retrieval"
	"botgate/pkg/faults"
	"botgate/pkg/tenants"
)

type fakeGen struct {
	out        string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeGen) GenerateStructured(_ context.Context, system, user string, _ map[string]any) ([]byte, error) {
	f.lastSystem = system
	f.lastUser = user
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.out), nil
}

func testBot() tenants.Bot {
	return tenants.Bot{
		ID:          "t1",
		DisplayName: "Acme Support",
		Persona:     "friendly and concise",
		PolicyText:  "Never promise refunds over $100.",
		EndpointPolicies: []tenants.EndpointPolicy{
			{Endpoint: "/refund", Methods: []string{"POST"}, Roles: []string{"admin"}},
		},
	}
}

func chunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{Text: "Refunds take 5 days.", Source: "faq.pdf", Score: 0.9},
		{Text: "Orders ship within 24h.", Source: "faq.pdf", Score: 0.5},
	}
}

func TestDecideNone(t *testing.T) {
	gen := &fakeGen{out: `{"action":"NONE","answer":"Refunds take 5 days."}`}
	d, err := NewEngine(gen).Decide(context.Background(), testBot(), "how long do refunds take?", chunks())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, "Refunds take 5 days.", d.Answer)
}

func TestDecideCallAPIDefaultsMethod(t *testing.T) {
	gen := &fakeGen{out: `{"action":"CALL_API","endpoint":"/refund","payload":{"order":"42"},"answer":"Starting your refund."}`}
	d, err := NewEngine(gen).Decide(context.Background(), testBot(), "refund order 42", chunks())
	require.NoError(t, err)
	assert.Equal(t, ActionCallAPI, d.Action)
	assert.Equal(t, "/refund", d.Endpoint)
	assert.Equal(t, "POST", d.Method)
}

func TestDecideRejectsMissingAnswer(t *testing.T) {
	gen := &fakeGen{out: `{"action":"NONE"}`}
	_, err := NewEngine(gen).Decide(context.Background(), testBot(), "hi", chunks())
	require.Error(t, err)
	assert.Equal(t, faults.DecisionParse, faults.CodeOf(err))
}

func TestDecideRejectsInvalidJSON(t *testing.T) {
	gen := &fakeGen{out: `I think the answer is...`}
	_, err := NewEngine(gen).Decide(context.Background(), testBot(), "hi", chunks())
	require.Error(t, err)
	assert.Equal(t, faults.DecisionParse, faults.CodeOf(err))
}

func TestDecideRejectsUnknownAction(t *testing.T) {
	gen := &fakeGen{out: `{"action":"SHRUG","answer":"ok"}`}
	_, err := NewEngine(gen).Decide(context.Background(), testBot(), "hi", chunks())
	require.Error(t, err)
	assert.Equal(t, faults.DecisionParse, faults.CodeOf(err))
}

func TestPromptCarriesContext(t *testing.T) {
	gen := &fakeGen{out: `{"action":"NONE","answer":"ok"}`}
	_, err := NewEngine(gen).Decide(context.Background(), testBot(), "refund order 42", chunks())
	require.NoError(t, err)

	// Persona and business rules land in the system instruction.
	assert.Contains(t, gen.lastSystem, "friendly and concise")
	assert.Contains(t, gen.lastSystem, "Never promise refunds over $100.")

	// Chunks are numbered so the model can cite them, and the endpoint
	// catalog includes the role requirements.
	assert.Contains(t, gen.lastUser, "#1 (faq.pdf): Refunds take 5 days.")
	assert.Contains(t, gen.lastUser, "#2")
	assert.Contains(t, gen.lastUser, "POST /refund (allowed roles: admin)")
	assert.True(t, strings.HasSuffix(gen.lastUser, "refund order 42"))
}
