package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"batterymon/backend/services/battery-service/internal/models"
)

const latestKey = "telemetry:latest"

// LatestReading is the mirrored form of the cached reading.
type LatestReading struct {
	SpecificGravity float64   `json:"sg"`
	Level           float64   `json:"level"`
	ReceivedAt      time.Time `json:"received_at"`
}

type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// LatestStore mirrors the newest reading into redis.
type LatestStore struct {
	client kv
	ttl    time.Duration
}

// NewLatestStore returns redis-backed store. A zero ttl keeps the key forever.
func NewLatestStore(client *redis.Client, ttl time.Duration) *LatestStore {
	return &LatestStore{client: client, ttl: ttl}
}

// Save overwrites the mirrored reading.
func (s *LatestStore) Save(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(LatestReading{
		SpecificGravity: reading.SpecificGravity,
		Level:           reading.Level,
		ReceivedAt:      reading.LastReceivedAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, latestKey, data, s.ttl).Err()
}

// Get returns mirrored reading, or nil when nothing is stored.
func (s *LatestStore) Get(ctx context.Context) (*LatestReading, error) {
	result, err := s.client.Get(ctx, latestKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var latest LatestReading
	if err := json.Unmarshal([]byte(result), &latest); err != nil {
		return nil, err
	}
	return &latest, nil
}
