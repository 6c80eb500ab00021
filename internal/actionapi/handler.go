// internal/actionapi/handler.go
package actionapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"botgate/internal/dispatch"
	"botgate/internal/policy"
	"botgate/internal/token"
	"botgate/pkg/faults"
	"botgate/pkg/middleware"
)

type invokeRequest struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RegisterHTTP mounts the standalone action boundary. The orchestrator holds
// the same checks inline; exposing them behind their own endpoint keeps the
// action path independently testable and callable. The router is expected to
// be nested under /v1/bots/{botID} with the WithBot middleware applied.
func RegisterHTTP(r chi.Router, log *zap.SugaredLogger, verifier *token.Verifier, dispatcher *dispatch.Dispatcher) {
	r.Post("/actions/invoke", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		bot := middleware.BotFrom(ctx)

		raw := bearerFrom(req)
		if raw == "" {
			faults.WriteHTTP(w, faults.New(faults.AuthMissing, "authentication required for this action"))
			return
		}
		principal, err := verifier.Verify(ctx, raw, bot.Issuer, bot.Audience, bot.RolesClaimPath)
		if err != nil {
			faults.WriteHTTP(w, err)
			return
		}

		var body invokeRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "request body must be JSON"))
			return
		}
		endpoint := strings.TrimSpace(body.Endpoint)
		if endpoint == "" {
			faults.WriteHTTP(w, faults.New(faults.EndpointMissing, "endpoint required"))
			return
		}
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}

		if !policy.Evaluate(ctx, bot, endpoint, principal.Roles) {
			faults.WriteHTTP(w, faults.New(faults.RoleDenied, "insufficient role for endpoint"))
			return
		}

		res, err := dispatcher.Dispatch(ctx, bot, principal, endpoint, body.Method, body.Payload)
		if err != nil {
			if code := faults.CodeOf(err); code != faults.Internal {
				faults.WriteHTTP(w, err)
				return
			}
			log.Warnw("dispatch failed", "bot", bot.ID, "endpoint", endpoint, "err", err)
			faults.WriteHTTP(w, faults.Wrap(faults.Internal, "upstream unreachable", err))
			return
		}

		var data any = res.JSON
		if data == nil && res.Text != "" {
			data = res.Text
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "success",
			"data":            data,
			"upstream_status": res.Status,
		})
	})
}

func bearerFrom(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}
