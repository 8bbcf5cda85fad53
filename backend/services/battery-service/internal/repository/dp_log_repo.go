package repository

import (
	"context"
	"database/sql"

	libdb "batterymon/backend/libs/db"
	"batterymon/backend/services/battery-service/internal/models"
)

// DPLogRepository reads raw samples written by the dplog consumer.
type DPLogRepository struct {
	db *sql.DB
}

// NewDPLogRepository ctor.
func NewDPLogRepository(db *sql.DB) *DPLogRepository {
	return &DPLogRepository{db: db}
}

// Recent returns the latest limit rows in chronological order. Before the consumer
// has created dp_log the result is empty.
func (r *DPLogRepository) Recent(ctx context.Context, limit int) ([]models.DPLogEntry, error) {
	const query = `
		SELECT id, read_time, dp_pa, samples
		FROM (
			SELECT id, read_time, dp_pa, samples
			FROM dp_log
			ORDER BY id DESC
			LIMIT $1
		) latest
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		if libdb.IsSchemaMissing(err) {
			return []models.DPLogEntry{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.DPLogEntry, 0, limit)
	for rows.Next() {
		var e models.DPLogEntry
		if err := rows.Scan(&e.ID, &e.ReadTime, &e.DPPa, &e.Samples); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
