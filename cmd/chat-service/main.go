// cmd/chat-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botgate/internal/cache"
	"botgate/internal/chatapi"
	"botgate/internal/decision"
	"botgate/internal/dispatch"
	"botgate/internal/orchestrator"
	"botgate/internal/retrieval"
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
	rdb := db.MustRedis(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := tenants.SeedFromEnv(context.Background(), pool, os.Getenv("BOT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	var responses cache.Cache
	if rdb != nil {
		responses = cache.NewRedis(rdb, log)
	} else {
		responses = cache.NewMemory()
	}

	var retriever retrieval.Retriever
	if cfg.RetrieverURL != "" {
		retriever = retrieval.NewHTTP(cfg.RetrieverURL)
	} else {
		mem := retrieval.NewMemory(nil)
		loadDevCorpus(mem, log)
		retriever = mem
	}

	engine := decision.NewEngine(decision.NewGemini(cfg.ModelBaseURL, cfg.ModelName, cfg.ModelAPIKey))
	verifier := token.NewVerifier(cfg.JWKSTTL, cfg.AuthClockSkew)
	dispatcher := dispatch.New()
	svc := orchestrator.New(log, responses, retriever, engine, verifier, dispatcher, cfg.RetrieveK, cfg.CacheTTL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("chat-service"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/bots/{botID}", func(br chi.Router) {
		br.Use(middleware.WithBot(prov))
		br.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		chatapi.RegisterHTTP(br, log, svc, pool)
	})

	srv := &http.Server{Addr: cfg.ChatAddr, Handler: r}
	go func() {
		log.Infow("chat-service listening", "addr", cfg.ChatAddr)
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
	fmt.Println("chat-service stopped")
}

// loadDevCorpus indexes KNOWLEDGE_DIR/<botID>/*.txt into the in-memory
// retriever for local bring-up without a vector-search service.
func loadDevCorpus(mem *retrieval.Memory, log logger.Sugared) {
	root := os.Getenv("KNOWLEDGE_DIR")
	if root == "" {
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		log.Warnw("knowledge dir read", "dir", root, "err", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		botID := e.Name()
		files, _ := filepath.Glob(filepath.Join(root, botID, "*.txt"))
		for _, f := range files {
			raw, err := os.ReadFile(f)
			if err != nil {
				log.Warnw("knowledge file read", "file", f, "err", err)
				continue
			}
			if err := mem.Ingest(context.Background(), botID, string(raw), filepath.Base(f)); err != nil {
				log.Warnw("knowledge ingest", "file", f, "err", err)
			}
		}
	}
}
