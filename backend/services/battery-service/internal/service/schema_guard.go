package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchemaEnsurer runs idempotent DDL.
type SchemaEnsurer interface {
	EnsureSnapshotSchema(ctx context.Context) error
}

// SchemaGuard provisions the snapshot table at startup and after writes that found it missing.
// Failures are logged, never returned; the caller's retry surfaces any lasting problem.
type SchemaGuard struct {
	repo    SchemaEnsurer
	timeout time.Duration
	logger  *zap.Logger

	// serialises in-process DDL; concurrent CREATE TABLE IF NOT EXISTS can still collide in pg_type.
	mu sync.Mutex
}

// NewSchemaGuard returns guard.
func NewSchemaGuard(repo SchemaEnsurer, timeout time.Duration, logger *zap.Logger) *SchemaGuard {
	return &SchemaGuard{repo: repo, timeout: timeout, logger: logger}
}

// Ensure creates missing schema objects.
func (g *SchemaGuard) Ensure(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.repo.EnsureSnapshotSchema(ctx); err != nil {
		g.logger.Error("snapshot schema provisioning failed", zap.Error(err))
		return
	}
	g.logger.Debug("snapshot schema ensured")
}
