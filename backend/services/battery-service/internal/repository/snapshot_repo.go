package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	libdb "batterymon/backend/libs/db"
	"batterymon/backend/services/battery-service/internal/models"
)

// ErrSchemaMissing indicates the snapshot table or one of its columns is not provisioned.
var ErrSchemaMissing = errors.New("snapshot schema missing")

// SnapshotQuery selects one page of snapshots.
type SnapshotQuery struct {
	Limit      int
	Offset     int
	Descending bool
	// Date restricts results to one calendar day when set.
	Date *time.Time
}

// SnapshotRepository persists saved readings in dp_saved.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository returns repository.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert stores a snapshot and returns the row with generated id and timestamp.
func (r *SnapshotRepository) Insert(ctx context.Context, specificGravity, level float64) (*models.Snapshot, error) {
	const query = `
		INSERT INTO dp_saved (sg, level)
		VALUES ($1, $2)
		RETURNING id, sg, level, created_at
	`
	var s models.Snapshot
	err := r.db.QueryRowContext(ctx, query, specificGravity, level).
		Scan(&s.ID, &s.SpecificGravity, &s.Level, &s.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

// List returns snapshots ordered by (created_at, id) in the requested direction.
func (r *SnapshotRepository) List(ctx context.Context, q SnapshotQuery) ([]models.Snapshot, error) {
	where, args := dateFilter(q.Date)
	args = append(args, q.Limit, q.Offset)

	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, sg, level, created_at
		FROM dp_saved
		%s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, where, direction, direction, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	snapshots := make([]models.Snapshot, 0, q.Limit)
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.ID, &s.SpecificGravity, &s.Level, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return snapshots, nil
}

// Count returns the number of snapshots matching the same date filter as List.
func (r *SnapshotRepository) Count(ctx context.Context, date *time.Time) (int64, error) {
	where, args := dateFilter(date)
	query := strings.TrimSpace("SELECT COUNT(*) FROM dp_saved " + where)

	var total int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, classify(err)
	}
	return total, nil
}

func dateFilter(date *time.Time) (string, []any) {
	if date == nil {
		return "", nil
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return "WHERE created_at::date = $1::date", []any{day}
}

func classify(err error) error {
	if libdb.IsSchemaMissing(err) {
		return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
	}
	return err
}
