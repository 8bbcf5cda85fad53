package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	libdb "batterymon/backend/libs/db"
	"batterymon/backend/services/dplog-consumer/internal/models"
)

// ErrSchemaMissing indicates dp_log is not provisioned.
var ErrSchemaMissing = errors.New("dp_log schema missing")

const createDPLogTable = `
	CREATE TABLE IF NOT EXISTS dp_log (
		id SERIAL PRIMARY KEY,
		read_time TIMESTAMP WITH TIME ZONE DEFAULT now(),
		dp_pa DOUBLE PRECISION,
		samples INTEGER
	)
`

// DPLogRepository appends raw samples to dp_log.
type DPLogRepository struct {
	db *sql.DB
}

// NewDPLogRepository ctor.
func NewDPLogRepository(db *sql.DB) *DPLogRepository {
	return &DPLogRepository{db: db}
}

// EnsureSchema creates dp_log when absent.
func (r *DPLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createDPLogTable); err != nil {
		return fmt.Errorf("ensure dp_log: %w", err)
	}
	return nil
}

// Insert appends one sample and returns its id.
func (r *DPLogRepository) Insert(ctx context.Context, s models.Sample) (int64, error) {
	const query = `INSERT INTO dp_log (dp_pa, samples) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, s.DPPa, s.Samples).Scan(&id); err != nil {
		if libdb.IsSchemaMissing(err) {
			return 0, fmt.Errorf("%w: %v", ErrSchemaMissing, err)
		}
		return 0, err
	}
	return id, nil
}
