package models

import "time"

// Reading is the live telemetry value held in memory.
type Reading struct {
	SpecificGravity float64
	Level           float64
	LastReceivedAt  time.Time
}

// HasData reports whether any message has updated the reading yet.
func (r Reading) HasData() bool {
	return !r.LastReceivedAt.IsZero()
}
