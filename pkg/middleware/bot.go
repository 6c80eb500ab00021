// pkg/middleware/bot.go
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"botgate/pkg/faults"
	"botgate/pkg/tenants"
)

type ctxBotKey struct{}

// WithBot resolves the {botID} route param against the registry and stores
// the bot config in the request context. Unknown ids are a 404 fault.
func WithBot(prov tenants.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "botID")
			if id == "" {
				faults.WriteHTTP(w, faults.New(faults.InputInvalid, "bot id required"))
				return
			}
			b, err := prov.GetBot(r.Context(), id)
			if err != nil {
				if errors.Is(err, tenants.ErrNotFound) {
					faults.WriteHTTP(w, faults.New(faults.TenantUnknown, "unknown bot"))
					return
				}
				faults.WriteHTTP(w, faults.Wrap(faults.Internal, "bot lookup failed", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxBotKey{}, b)))
		})
	}
}

func BotFrom(ctx context.Context) tenants.Bot {
	if v := ctx.Value(ctxBotKey{}); v != nil {
		return v.(tenants.Bot)
	}
	return tenants.Bot{}
}
