// cmd/admin-service/main.go
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

	"botgate/internal/adminapi"
	"botgate/internal/retrieval"
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
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		_ = tenants.SeedFromEnv(context.Background(), pool, os.Getenv("BOT_SEED_JSON"))
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	var ingestor retrieval.Ingestor
	if cfg.IngestURL != "" {
		ingestor = retrieval.NewHTTPIngestor(cfg.IngestURL)
	}

	app := adminapi.New(log, prov, ingestor)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("admin-service"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	app.Routes(r)

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: r}
	go func() {
		log.Infow("admin-service listening", "addr", cfg.AdminAddr)
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
	fmt.Println("admin-service stopped")
}
