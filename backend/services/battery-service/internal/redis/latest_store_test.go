package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"batterymon/backend/services/battery-service/internal/models"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = string(value.([]byte))
	m.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryKV) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestLatestStoreRoundTrip(t *testing.T) {
	kv := newMemoryKV()
	store := &LatestStore{client: kv, ttl: 10 * time.Minute}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(context.Background(), models.Reading{SpecificGravity: 1.2, Level: 5, LastReceivedAt: at}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if kv.ttls[latestKey] != 10*time.Minute {
		t.Fatalf("ttl = %s", kv.ttls[latestKey])
	}

	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.SpecificGravity != 1.2 || got.Level != 5 || !got.ReceivedAt.Equal(at) {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestLatestStoreMissingKey(t *testing.T) {
	store := &LatestStore{client: newMemoryKV()}
	got, err := store.Get(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
}

func TestLatestStorePropagatesErrors(t *testing.T) {
	kv := newMemoryKV()
	kv.err = errors.New("connection refused")
	store := &LatestStore{client: kv}

	if err := store.Save(context.Background(), models.Reading{}); err == nil {
		t.Fatal("Save() expected error")
	}
	if _, err := store.Get(context.Background()); err == nil {
		t.Fatal("Get() expected error")
	}
}
