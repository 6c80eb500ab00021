// internal/orchestrator/service.go
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"botgate/internal/cache"
	"botgate/internal/decision"
	"botgate/internal/dispatch"
	"botgate/internal/policy"
	"botgate/internal/retrieval"
	"botgate/internal/token"
	"botgate/pkg/faults"
	"botgate/pkg/metrics"
	"botgate/pkg/tenants"
)

// Decider produces a structured decision for one turn.
type Decider interface {
	Decide(ctx context.Context, bot tenants.Bot, message string, chunks []retrieval.Chunk) (decision.Decision, error)
}

// TokenVerifier validates a bearer token against a bot's identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, raw, issuer, audience, rolesPath string) (token.Principal, error)
}

// ActionDispatcher forwards an authorized action to the bot's first-party API.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, bot tenants.Bot, principal token.Principal, endpoint, method string, payload json.RawMessage) (dispatch.Result, error)
}

// TurnRequest is one user message against one bot. Bearer is optional: it is
// only required when the model decides the turn needs an action.
type TurnRequest struct {
	Message string
	Bearer  string
}

// TurnResult is the composed final answer. ActionEndpoint is set only when
// this turn attempted a dispatch; cached replays leave it empty.
type TurnResult struct {
	Answer          string
	ServedFromCache bool
	ActionEndpoint  string
}

// Service sequences one turn: cache check, retrieval, model decision and,
// when an action is requested, verification, policy evaluation and dispatch,
// before composing and caching the final answer. Steps are sequential and
// blocking; nothing in a turn is retried.
type Service struct {
	log        *zap.SugaredLogger
	cache      cache.Cache
	retriever  retrieval.Retriever
	engine     Decider
	verifier   TokenVerifier
	dispatcher ActionDispatcher
	retrieveK  int
	cacheTTL   time.Duration
}

func New(log *zap.SugaredLogger, c cache.Cache, r retrieval.Retriever, e Decider, v TokenVerifier, d ActionDispatcher, retrieveK int, cacheTTL time.Duration) *Service {
	if retrieveK <= 0 {
		retrieveK = 4
	}
	return &Service{
		log: log, cache: c, retriever: r, engine: e, verifier: v, dispatcher: d,
		retrieveK: retrieveK, cacheTTL: cacheTTL,
	}
}

// Turn runs the full pipeline for one message. Fault codes distinguish every
// terminal error cause; a failed side-action is not one of them. The turn
// still completes and the failure is narrated inside the answer.
func (s *Service) Turn(ctx context.Context, bot tenants.Bot, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, faults.New(faults.InputInvalid, "message required")
	}

	// CacheCheck
	key := cache.Key(bot.ID, req.Message)
	if answer, ok := s.cache.Get(ctx, key); ok {
		metrics.CacheHits.WithLabelValues("hit").Inc()
		metrics.Turns.WithLabelValues("cached").Inc()
		return TurnResult{Answer: answer, ServedFromCache: true}, nil
	}
	metrics.CacheHits.WithLabelValues("miss").Inc()

	// Retrieve. An empty sequence means the bot has no usable knowledge base;
	// asking the model to answer from nothing is not an option.
	chunks, err := s.retriever.Retrieve(ctx, bot.ID, req.Message, s.retrieveK)
	if err != nil {
		return s.fail(faults.Wrap(faults.Internal, "retrieval failed", err))
	}
	if len(chunks) == 0 {
		return s.fail(faults.New(faults.NoKnowledge, "no knowledge base for this bot"))
	}

	// Decide
	dec, err := s.engine.Decide(ctx, bot, req.Message, chunks)
	if err != nil {
		return s.fail(err)
	}

	answer := dec.Answer
	actionEndpoint := ""
	if dec.Action == decision.ActionCallAPI {
		endpoint := strings.TrimSpace(dec.Endpoint)
		if endpoint == "" {
			return s.fail(faults.New(faults.EndpointMissing, "model requested an action without specifying a target"))
		}
		// Policy lookup and upstream URL join both assume a rooted path; a
		// bare "refund" must not slip past an exact-match entry for "/refund".
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}
		actionEndpoint = endpoint

		// Authorize. The bearer requirement applies only on the action path.
		if strings.TrimSpace(req.Bearer) == "" {
			return s.fail(faults.New(faults.AuthMissing, "authentication required for this action"))
		}
		principal, err := s.verifier.Verify(ctx, req.Bearer, bot.Issuer, bot.Audience, bot.RolesClaimPath)
		if err != nil {
			return s.fail(err)
		}
		if !policy.Evaluate(ctx, bot, endpoint, principal.Roles) {
			return s.fail(faults.New(faults.RoleDenied, "insufficient role for endpoint"))
		}

		// Dispatch + Compose. Upstream trouble is folded into the answer.
		res, err := s.dispatcher.Dispatch(ctx, bot, principal, endpoint, dec.Method, dec.Payload)
		if err != nil {
			if faults.CodeOf(err) == faults.AudienceBad {
				return s.fail(err)
			}
			s.log.Warnw("dispatch failed", "bot", bot.ID, "endpoint", endpoint, "err", err)
			answer = composeCaveat(answer, dec.Method, endpoint, 0)
		} else if !res.OK() {
			answer = composeCaveat(answer, dec.Method, endpoint, res.Status)
		} else {
			answer = composeSuccess(answer, dec.Method, endpoint, res)
		}
	}

	// CacheWrite happens only on the success path; failed turns are not cached.
	s.cache.Put(ctx, key, answer, s.cacheTTL)
	metrics.Turns.WithLabelValues("ok").Inc()
	return TurnResult{Answer: answer, ActionEndpoint: actionEndpoint}, nil
}

func (s *Service) fail(err error) (TurnResult, error) {
	metrics.Turns.WithLabelValues(string(faults.CodeOf(err))).Inc()
	return TurnResult{}, err
}

func composeSuccess(answer, method, endpoint string, res dispatch.Result) string {
	summary := res.Summary()
	if summary == "" {
		summary = fmt.Sprintf("status %d", res.Status)
	}
	return fmt.Sprintf("%s\n\n---\nAction %s %s completed: %s", answer, strings.ToUpper(method), endpoint, summary)
}

func composeCaveat(answer, method, endpoint string, status int) string {
	if status == 0 {
		return fmt.Sprintf("%s\n\n---\nNote: the requested action %s %s could not be completed (the business API was unreachable).",
			answer, strings.ToUpper(method), endpoint)
	}
	return fmt.Sprintf("%s\n\n---\nNote: the requested action %s %s could not be completed (upstream returned status %d).",
		answer, strings.ToUpper(method), endpoint, status)
}
