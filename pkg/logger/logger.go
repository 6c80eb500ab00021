// Package logger builds the process-wide zap logger shared by all botgate
// services: structured JSON in prod, human-readable console output otherwise.
package logger

import (
	"go.uber.org/zap"
)

// Sugared is the logger handle threaded through constructors.
type Sugared = *zap.SugaredLogger

// New selects the zap config by environment name. BOTGATE_ENV=prod is the
// only value that switches to production encoding.
func New(env string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar()
}
