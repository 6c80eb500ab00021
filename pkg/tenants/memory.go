// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type memProvider struct {
	log  *zap.SugaredLogger
	mu   sync.RWMutex
	byID map[string]Bot
}

// NewMemoryProviderFromEnv builds an in-process registry for dev bring-up.
// Seed sources, in order: BOT_SEED_FILE (YAML list of bots), BOT_SEED_JSON.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := &memProvider{log: log, byID: map[string]Bot{}}
	if path := os.Getenv("BOT_SEED_FILE"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			var seed []seedBot
			if err := yaml.Unmarshal(raw, &seed); err != nil {
				log.Warnw("bot seed file parse", "path", path, "err", err)
			} else {
				p.load(seed)
			}
		} else {
			log.Warnw("bot seed file read", "path", path, "err", err)
		}
	} else if raw := os.Getenv("BOT_SEED_JSON"); raw != "" {
		var seed []seedBot
		if err := json.Unmarshal([]byte(raw), &seed); err != nil {
			log.Warnw("bot seed json parse", "err", err)
		} else {
			p.load(seed)
		}
	}
	return p
}

type seedBot struct {
	ID              string           `json:"id" yaml:"id"`
	Slug            string           `json:"slug" yaml:"slug"`
	DisplayName     string           `json:"display_name" yaml:"display_name"`
	Persona         string           `json:"persona" yaml:"persona"`
	PolicyText      string           `json:"policy_text" yaml:"policy_text"`
	UpstreamBaseURL string           `json:"upstream_base_url" yaml:"upstream_base_url"`
	Issuer          string           `json:"issuer" yaml:"issuer"`
	Audience        string           `json:"audience" yaml:"audience"`
	RolesClaimPath  string           `json:"roles_claim_path" yaml:"roles_claim_path"`
	Endpoints       []EndpointPolicy `json:"endpoint_policies" yaml:"endpoint_policies"`
	RegoPolicy      string           `json:"rego_policy" yaml:"rego_policy"`
}

func (p *memProvider) load(seed []seedBot) {
	for _, e := range seed {
		b := Bot{
			ID: e.ID, Slug: e.Slug, DisplayName: e.DisplayName,
			Persona: e.Persona, PolicyText: e.PolicyText,
			UpstreamBaseURL: e.UpstreamBaseURL,
			Issuer:          e.Issuer, Audience: e.Audience,
			RolesClaimPath:   e.RolesClaimPath,
			EndpointPolicies: e.Endpoints,
			RegoPolicy:       e.RegoPolicy,
		}
		if err := b.Validate(); err != nil {
			p.log.Warnw("bot seed entry skipped", "id", e.ID, "err", err)
			continue
		}
		p.byID[b.ID] = b
	}
	p.log.Infow("bot registry seeded", "bots", len(p.byID))
}

func (p *memProvider) GetBot(ctx context.Context, id string) (Bot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.byID[id]; ok {
		return b, nil
	}
	return Bot{}, ErrNotFound
}

func (p *memProvider) PutBot(ctx context.Context, b Bot) error {
	if err := b.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[b.ID] = b
	return nil
}

func (p *memProvider) ListBots(ctx context.Context) ([]Bot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Bot, 0, len(p.byID))
	for _, b := range p.byID {
		out = append(out, b)
	}
	return out, nil
}
