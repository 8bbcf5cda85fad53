package models

import "time"

// Snapshot is a persisted copy of a Reading. Level is nil for rows saved
// before the level column existed.
type Snapshot struct {
	ID              int64     `db:"id" json:"id"`
	SpecificGravity float64   `db:"sg" json:"dp_pa"`
	Level           *float64  `db:"level" json:"level"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
