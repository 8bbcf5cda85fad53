package service

import (
	"sync"
	"time"

	"batterymon/backend/services/battery-service/internal/models"
)

// ReadingUpdate carries the fields decoded from one telemetry message.
// A nil field was absent from the message.
type ReadingUpdate struct {
	SpecificGravity *float64
	Level           *float64
}

// Empty reports whether the update carries no telemetry at all.
func (u ReadingUpdate) Empty() bool {
	return u.SpecificGravity == nil && u.Level == nil
}

// ReadingCache holds the single latest reading for the process.
// IngestionBridge is the only writer.
type ReadingCache struct {
	mu      sync.RWMutex
	reading models.Reading
	now     func() time.Time
}

// NewReadingCache returns cache with zero reading.
func NewReadingCache() *ReadingCache {
	return &ReadingCache{now: time.Now}
}

// Update applies the present fields and advances LastReceivedAt. Empty updates are ignored.
// It returns the reading as stored after the update.
func (c *ReadingCache) Update(u ReadingUpdate) (models.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Empty() {
		return c.reading, false
	}
	if u.SpecificGravity != nil {
		c.reading.SpecificGravity = *u.SpecificGravity
	}
	if u.Level != nil {
		c.reading.Level = *u.Level
	}
	c.reading.LastReceivedAt = c.now().UTC()
	return c.reading, true
}

// Snapshot returns a copy of the current reading.
func (c *ReadingCache) Snapshot() models.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}
