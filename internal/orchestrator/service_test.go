package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"botgate/internal/cache"
	"botgate/internal/decision"
	"botgate/internal/dispatch"
	"botgate/internal/retrieval"
	"botgate/internal/token"
	"botgate/pkg/faults"
	"botgate/pkg/tenants"
)

type fakeRetriever struct {
	chunks []retrieval.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string, _ int) ([]retrieval.Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

type fakeDecider struct {
	dec   decision.Decision
	err   error
	calls int
}

func (f *fakeDecider) Decide(_ context.Context, _ tenants.Bot, _ string, _ []retrieval.Chunk) (decision.Decision, error) {
	f.calls++
	return f.dec, f.err
}

type fakeVerifier struct {
	principal token.Principal
	err       error
	calls     int
}

func (f *fakeVerifier) Verify(_ context.Context, raw, _, _, _ string) (token.Principal, error) {
	f.calls++
	if f.err != nil {
		return token.Principal{}, f.err
	}
	p := f.principal
	p.Raw = raw
	return p, nil
}

type fakeDispatcher struct {
	result   dispatch.Result
	err      error
	calls    int
	endpoint string
	method   string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ tenants.Bot, _ token.Principal, endpoint, method string, _ json.RawMessage) (dispatch.Result, error) {
	f.calls++
	f.endpoint = endpoint
	f.method = method
	return f.result, f.err
}

func refundBot() tenants.Bot {
	return tenants.Bot{
		ID:              "acme",
		UpstreamBaseURL: "https://api.acme.test",
		Issuer:          "https://auth.acme.test",
		Audience:        "acme-api",
		EndpointPolicies: []tenants.EndpointPolicy{
			{Endpoint: "/refund", Methods: []string{"POST"}, Roles: []string{"admin"}},
		},
	}
}

func someChunks() []retrieval.Chunk {
	return []retrieval.Chunk{{Text: "Refunds take 5 days.", Source: "faq.pdf", Score: 0.9}}
}

type fixture struct {
	svc        *Service
	cache      *cache.Memory
	retriever  *fakeRetriever
	decider    *fakeDecider
	verifier   *fakeVerifier
	dispatcher *fakeDispatcher
}

func newFixture() *fixture {
	f := &fixture{
		cache:      cache.NewMemory(),
		retriever:  &fakeRetriever{chunks: someChunks()},
		decider:    &fakeDecider{dec: decision.Decision{Action: decision.ActionNone, Answer: "Refunds take 5 days."}},
		verifier:   &fakeVerifier{principal: token.Principal{Subject: "u1", Roles: []string{"admin"}, Audience: []string{"acme-api"}}},
		dispatcher: &fakeDispatcher{result: dispatch.Result{Status: 200, JSON: map[string]any{"ok": true}}},
	}
	f.svc = New(zap.NewNop().Sugar(), f.cache, f.retriever, f.decider, f.verifier, f.dispatcher, 4, time.Minute)
	return f
}

func TestTurnEmptyMessage(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "   "})
	require.Error(t, err)
	assert.Equal(t, faults.InputInvalid, faults.CodeOf(err))
	assert.Zero(t, f.retriever.calls)
}

func TestTurnAnswerOnly(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "how long do refunds take?"})
	require.NoError(t, err)

	assert.Equal(t, "Refunds take 5 days.", res.Answer)
	assert.False(t, res.ServedFromCache)
	assert.Zero(t, f.verifier.calls)
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnCacheIdempotence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bot := refundBot()

	first, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "How long do refunds take?"})
	require.NoError(t, err)
	require.False(t, first.ServedFromCache)

	// A repeat differing only in case and whitespace is the same turn; nothing
	// downstream of the cache runs again.
	second, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "  how long do REFUNDS take?  "})
	require.NoError(t, err)
	assert.True(t, second.ServedFromCache)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, f.retriever.calls)
	assert.Equal(t, 1, f.decider.calls)
}

func TestTurnCacheIsTenantScoped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Turn(ctx, refundBot(), TurnRequest{Message: "hi"})
	require.NoError(t, err)

	other := refundBot()
	other.ID = "globex"
	res, err := f.svc.Turn(ctx, other, TurnRequest{Message: "hi"})
	require.NoError(t, err)
	assert.False(t, res.ServedFromCache)
	assert.Equal(t, 2, f.retriever.calls)
}

func TestTurnEmptyRetrieval(t *testing.T) {
	f := newFixture()
	f.retriever.chunks = nil

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, faults.NoKnowledge, faults.CodeOf(err))
	// The model is never consulted for a bot with no knowledge base.
	assert.Zero(t, f.decider.calls)
}

func TestTurnRetrievalError(t *testing.T) {
	f := newFixture()
	f.retriever.err = errors.New("vector store down")

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, faults.Internal, faults.CodeOf(err))
}

func TestTurnDecisionFaultPassesThrough(t *testing.T) {
	f := newFixture()
	f.decider.err = faults.New(faults.DecisionParse, "model returned prose")

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, faults.DecisionParse, faults.CodeOf(err))
}

func TestTurnActionWithoutEndpoint(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Answer: "On it."}

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund me", Bearer: "tok"})
	require.Error(t, err)
	assert.Equal(t, faults.EndpointMissing, faults.CodeOf(err))
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnActionWithoutBearer(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "On it."}

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42"})
	require.Error(t, err)
	assert.Equal(t, faults.AuthMissing, faults.CodeOf(err))
	assert.Zero(t, f.verifier.calls)
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnRoleDenied(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "On it."}
	f.verifier.principal.Roles = []string{"support"}

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.Error(t, err)
	assert.Equal(t, faults.RoleDenied, faults.CodeOf(err))
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnRolePermitted(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{
		Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST",
		Payload: json.RawMessage(`{"order":"42"}`), Answer: "Refund started.",
	}

	res, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.dispatcher.calls)
	assert.Equal(t, "/refund", f.dispatcher.endpoint)
	assert.Equal(t, "/refund", res.ActionEndpoint)
	assert.Contains(t, res.Answer, "Refund started.")
	assert.Contains(t, res.Answer, "Action POST /refund completed")
}

func TestTurnUnrootedEndpointIsNormalized(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "refund", Method: "POST", Answer: "On it."}

	res, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "/refund", f.dispatcher.endpoint)
	assert.Equal(t, "/refund", res.ActionEndpoint)
}

func TestTurnUnrootedEndpointCannotBypassPolicy(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "refund", Method: "POST", Answer: "On it."}
	f.verifier.principal.Roles = []string{"support"}

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.Error(t, err)
	assert.Equal(t, faults.RoleDenied, faults.CodeOf(err))
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnVerifierFaultPassesThrough(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "On it."}
	f.verifier.err = faults.New(faults.AuthInvalid, "invalid token")

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "bad"})
	require.Error(t, err)
	assert.Equal(t, faults.AuthInvalid, faults.CodeOf(err))
	assert.Zero(t, f.dispatcher.calls)
}

func TestTurnUpstreamFailureBecomesCaveat(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "Refund started."}
	f.dispatcher.result = dispatch.Result{Status: 500, Text: "boom"}

	res, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)

	assert.Contains(t, res.Answer, "Refund started.")
	assert.Contains(t, res.Answer, "POST /refund could not be completed")
	assert.Contains(t, res.Answer, "status 500")
}

func TestTurnUnreachableUpstreamBecomesCaveat(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "Refund started."}
	f.dispatcher.result = dispatch.Result{}
	f.dispatcher.err = faults.Wrap(faults.Internal, "upstream request failed", errors.New("connection refused"))

	res, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "unreachable")
}

func TestTurnAudienceMismatchIsTerminal(t *testing.T) {
	f := newFixture()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "On it."}
	f.dispatcher.err = faults.New(faults.AudienceBad, "token audience does not cover this bot")

	_, err := f.svc.Turn(context.Background(), refundBot(), TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.Error(t, err)
	assert.Equal(t, faults.AudienceBad, faults.CodeOf(err))
}

func TestTurnFailedTurnsAreNotCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bot := refundBot()
	f.decider.err = faults.New(faults.DecisionParse, "model returned prose")

	_, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "hi"})
	require.Error(t, err)

	// After the fault is fixed the same message must run the pipeline again,
	// not replay a cached failure.
	f.decider.err = nil
	res, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "hi"})
	require.NoError(t, err)
	assert.False(t, res.ServedFromCache)
}

func TestTurnSuccessfulActionIsCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bot := refundBot()
	f.decider.dec = decision.Decision{Action: decision.ActionCallAPI, Endpoint: "/refund", Method: "POST", Answer: "Refund started."}

	first, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)

	second, err := f.svc.Turn(ctx, bot, TurnRequest{Message: "refund order 42", Bearer: "tok"})
	require.NoError(t, err)
	assert.True(t, second.ServedFromCache)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, f.dispatcher.calls)
}
