// internal/chatapi/handler.go
package chatapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"botgate/internal/orchestrator"
	"botgate/pkg/faults"
	"botgate/pkg/middleware"
	"botgate/pkg/tenants"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	TenantID        string `json:"tenant_id"`
	Answer          string `json:"answer"`
	ServedFromCache bool   `json:"served_from_cache"`
}

// RegisterHTTP mounts the turn entry point and the per-bot action manifest.
// The router is expected to be nested under /v1/bots/{botID} with the WithBot
// middleware already applied.
func RegisterHTTP(r chi.Router, log *zap.SugaredLogger, svc *orchestrator.Service, pool *pgxpool.Pool) {
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		bot := middleware.BotFrom(ctx)
		start := time.Now()

		var body chatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "request body must be JSON with a message field"))
			return
		}
		if strings.TrimSpace(body.Message) == "" {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "message required"))
			return
		}

		res, err := svc.Turn(ctx, bot, orchestrator.TurnRequest{
			Message: body.Message,
			Bearer:  bearerFrom(req),
		})
		outcome := "ok"
		if err != nil {
			outcome = string(faults.CodeOf(err))
		}
		tenants.RecordTurn(ctx, pool, bot.ID, middleware.RequestIDFrom(ctx), outcome, res.ActionEndpoint, res.ServedFromCache, int(time.Since(start).Milliseconds()))
		if err != nil {
			log.Infow("turn failed", "bot", bot.ID, "code", faults.CodeOf(err), "err", err)
			faults.WriteHTTP(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			TenantID:        bot.ID,
			Answer:          res.Answer,
			ServedFromCache: res.ServedFromCache,
		})
	})

	// Action manifest: the catalog of configured endpoints and their role
	// requirements, as handed to the model each turn.
	r.Get("/actions", func(w http.ResponseWriter, req *http.Request) {
		bot := middleware.BotFrom(req.Context())
		type entry struct {
			Endpoint string   `json:"endpoint"`
			Methods  []string `json:"methods,omitempty"`
			Roles    []string `json:"roles"`
		}
		out := make([]entry, 0, len(bot.EndpointPolicies))
		for _, p := range bot.EndpointPolicies {
			out = append(out, entry{Endpoint: p.Endpoint, Methods: p.Methods, Roles: p.Roles})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tenant_id": bot.ID, "actions": out})
	})
}

func bearerFrom(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}
