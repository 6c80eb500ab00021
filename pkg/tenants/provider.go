// pkg/tenants/provider.go
package tenants

import (
	"context"
)

// Provider is the read/write boundary for bot configuration. The orchestrator
// only reads; the admin service owns the write path.
type Provider interface {
	GetBot(ctx context.Context, id string) (Bot, error)
	PutBot(ctx context.Context, b Bot) error
	ListBots(ctx context.Context) ([]Bot, error)
}
