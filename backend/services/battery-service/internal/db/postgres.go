package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	libdb "batterymon/backend/libs/db"
)

// NewPostgres returns shared DB connection, waiting for Postgres to come up.
func NewPostgres(ctx context.Context, cfg libdb.Config, logger *zap.Logger) (*sql.DB, error) {
	return libdb.ConnectWithRetry(ctx, cfg.ConnString(), logger)
}
