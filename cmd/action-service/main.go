// cmd/action-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botgate/internal/actionapi"
	"botgate/internal/dispatch"
	"botgate/internal/token"
	"botgate/pkg/config"
	"botgate/pkg/db"
	"botgate/pkg/logger"
	"botgate/pkg/middleware"
	"botgate/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		_ = tenants.EnsureSchema(context.Background(), pool)
		_ = tenants.SeedFromEnv(context.Background(), pool, os.Getenv("BOT_SEED_JSON"))
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	verifier := token.NewVerifier(cfg.JWKSTTL, cfg.AuthClockSkew)
	dispatcher := dispatch.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("action-service"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/bots/{botID}", func(br chi.Router) {
		br.Use(middleware.WithBot(prov))
		actionapi.RegisterHTTP(br, log, verifier, dispatcher)
	})

	srv := &http.Server{Addr: cfg.ActionAddr, Handler: r}
	go func() {
		log.Infow("action-service listening", "addr", cfg.ActionAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("action-service stopped")
}
