package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	createSnapshotTable = `
		CREATE TABLE IF NOT EXISTS dp_saved (
			id SERIAL PRIMARY KEY,
			sg DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		)
	`
	addSnapshotLevelColumn = `
		ALTER TABLE dp_saved
		ADD COLUMN IF NOT EXISTS level DOUBLE PRECISION
	`
)

// SchemaRepository provisions the snapshot table.
type SchemaRepository struct {
	db *sql.DB
}

// NewSchemaRepository returns repository.
func NewSchemaRepository(db *sql.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// EnsureSnapshotSchema creates dp_saved and its level column when absent.
func (r *SchemaRepository) EnsureSnapshotSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{createSnapshotTable, addSnapshotLevelColumn} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure snapshot schema: %w", err)
		}
	}
	return tx.Commit()
}
