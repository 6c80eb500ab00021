// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed bot registry.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bots (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  display_name text,
  persona text,
  policy_text text,
  upstream_base_url text,
  issuer text,
  audience text,
  roles_claim_path text DEFAULT 'roles',
  endpoint_policies jsonb DEFAULT '[]'::jsonb,
  rego_policy text DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS turn_events (
  id BIGSERIAL PRIMARY KEY,
  bot_id uuid NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
  request_id text,
  outcome text,
  action_endpoint text,
  served_from_cache boolean,
  duration_ms int,
  started_at timestamptz NOT NULL DEFAULT NOW(),
  finished_at timestamptz
);
`)
	return err
}

// SeedFromEnv ingests initial bot rows from a JSON seed (BOT_SEED_JSON).
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedBot
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	p := &pgProvider{dbPool: dbPool}
	for _, e := range entries {
		b := Bot{
			ID: e.ID, Slug: e.Slug, DisplayName: e.DisplayName,
			Persona: e.Persona, PolicyText: e.PolicyText,
			UpstreamBaseURL: e.UpstreamBaseURL,
			Issuer:          e.Issuer, Audience: e.Audience,
			RolesClaimPath:   e.RolesClaimPath,
			EndpointPolicies: e.Endpoints,
			RegoPolicy:       e.RegoPolicy,
		}
		if err := p.PutBot(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (p *pgProvider) GetBot(ctx context.Context, id string) (Bot, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id,COALESCE(slug,''),COALESCE(display_name,''),COALESCE(persona,''),COALESCE(policy_text,''),COALESCE(upstream_base_url,''),COALESCE(issuer,''),COALESCE(audience,''),COALESCE(roles_claim_path,'roles'),endpoint_policies,COALESCE(rego_policy,'') FROM bots WHERE id=$1`, id)
	return scanBot(row)
}

func (p *pgProvider) PutBot(ctx context.Context, b Bot) error {
	if err := b.Validate(); err != nil {
		return err
	}
	policies, err := json.Marshal(b.EndpointPolicies)
	if err != nil {
		return err
	}
	_, err = p.dbPool.Exec(ctx, `INSERT INTO bots(id,slug,display_name,persona,policy_text,upstream_base_url,issuer,audience,roles_claim_path,endpoint_policies,rego_policy)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,display_name=EXCLUDED.display_name,persona=EXCLUDED.persona,policy_text=EXCLUDED.policy_text,upstream_base_url=EXCLUDED.upstream_base_url,issuer=EXCLUDED.issuer,audience=EXCLUDED.audience,roles_claim_path=EXCLUDED.roles_claim_path,endpoint_policies=EXCLUDED.endpoint_policies,rego_policy=EXCLUDED.rego_policy,updated_at=NOW()`,
		b.ID, b.Slug, b.DisplayName, b.Persona, b.PolicyText, b.UpstreamBaseURL, b.Issuer, b.Audience, b.RolesClaimPath, policies, b.RegoPolicy)
	return err
}

func (p *pgProvider) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT id,COALESCE(slug,''),COALESCE(display_name,''),COALESCE(persona,''),COALESCE(policy_text,''),COALESCE(upstream_base_url,''),COALESCE(issuer,''),COALESCE(audience,''),COALESCE(roles_claim_path,'roles'),endpoint_policies,COALESCE(rego_policy,'') FROM bots ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBot parses the endpoint_policies blob into the typed structure here, at
// the registry boundary, so request-time code never re-parses config JSON.
func scanBot(row rowScanner) (Bot, error) {
	var b Bot
	var policiesJSON []byte
	if err := row.Scan(&b.ID, &b.Slug, &b.DisplayName, &b.Persona, &b.PolicyText, &b.UpstreamBaseURL, &b.Issuer, &b.Audience, &b.RolesClaimPath, &policiesJSON, &b.RegoPolicy); err != nil {
		// Only a genuinely missing row is a 404; an infrastructure failure
		// must surface as one, not masquerade as an unknown bot.
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, fmt.Errorf("bot row scan: %w", err)
	}
	if len(policiesJSON) > 0 {
		if err := json.Unmarshal(policiesJSON, &b.EndpointPolicies); err != nil {
			return Bot{}, err
		}
	}
	return b, nil
}

// RecordTurn inserts a best-effort audit row for one completed turn.
func RecordTurn(ctx context.Context, dbPool *pgxpool.Pool, botID, requestID, outcome, actionEndpoint string, cached bool, durationMS int) {
	if dbPool == nil || botID == "" {
		return
	}
	_, _ = dbPool.Exec(ctx, `INSERT INTO turn_events(bot_id, request_id, outcome, action_endpoint, served_from_cache, duration_ms, finished_at)
	  VALUES ($1,$2,$3,$4,$5,$6,NOW())`, botID, requestID, outcome, actionEndpoint, cached, durationMS)
}
