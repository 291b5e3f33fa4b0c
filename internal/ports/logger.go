package ports

import (
	"context"
	"time"
)

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

type Clock interface {
	Now() time.Time
}

// Metrics records permission cache and gate outcomes.
type Metrics interface {
	CacheLoad(outcome string)
	GateDecision(permission, branch string)
}
