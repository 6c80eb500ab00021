// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	ChatAddr   string // chat-service
	ActionAddr string // action-service
	AdminAddr  string // admin-service

	// Language model collaborator (structured generation)
	ModelBaseURL string
	ModelName    string
	ModelAPIKey  string

	// Knowledge collaborators
	RetrieverURL string // vector search service; empty -> in-memory dev retriever
	IngestURL    string // ingestion service consumed by admin-service
	RetrieveK    int    // chunks per query

	// Response cache
	CacheTTL time.Duration

	// Token verification
	JWKSTTL       time.Duration
	AuthClockSkew time.Duration

	// Per-bot rate limit on the chat endpoint
	RateLimitRPS   float64
	RateLimitBurst int

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:            env("BOTGATE_ENV", "dev"),
		ChatAddr:       env("BOTGATE_CHAT_ADDR", ":8080"),
		ActionAddr:     env("BOTGATE_ACTION_ADDR", ":8081"),
		AdminAddr:      env("BOTGATE_ADMIN_ADDR", ":8082"),
		ModelBaseURL:   env("MODEL_BASE_URL", "https://generativelanguage.googleapis.com"),
		ModelName:      env("MODEL_NAME", "gemini-1.5-flash"),
		ModelAPIKey:    env("MODEL_API_KEY", ""),
		RetrieverURL:   env("RETRIEVER_URL", ""),
		IngestURL:      env("INGEST_URL", ""),
		RetrieveK:      envInt("RETRIEVE_K", 4),
		CacheTTL:       envDur("CACHE_TTL_SEC", 600) * time.Second,
		JWKSTTL:        envDur("JWKS_TTL_SEC", 21600) * time.Second,
		AuthClockSkew:  envDur("AUTH_CLOCK_SKEW_SEC", 60) * time.Second,
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 10),
		RedisURL:       env("REDIS_URL", ""),
		DatabaseURL:    env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory bot registry for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return i
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
