// pkg/middleware/ratelimit.go
package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit enforces a token-bucket limit per bot on the chat endpoint.
// Limiters live for the process lifetime; the key space is bounded by the
// number of registered bots.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}
	get := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[key]; ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(rps), burst)
		limiters[key] = l
		return l
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bot := BotFrom(r.Context())
			if bot.ID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !get(bot.ID).Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"status":"failed","code":"rate_limited","error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
