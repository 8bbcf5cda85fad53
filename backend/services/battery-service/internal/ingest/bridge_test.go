package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/battery-service/internal/models"
	"batterymon/backend/services/battery-service/internal/service"
)

type recordingHub struct {
	mu       sync.Mutex
	readings []models.Reading
}

func (h *recordingHub) Publish(r models.Reading) {
	h.mu.Lock()
	h.readings = append(h.readings, r)
	h.mu.Unlock()
}

func (h *recordingHub) published() []models.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Reading(nil), h.readings...)
}

type recordingMirror struct {
	mu    sync.Mutex
	saved []models.Reading
	err   error
}

func (m *recordingMirror) Save(_ context.Context, r models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return m.err
}

func (m *recordingMirror) savedReadings() []models.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Reading(nil), m.saved...)
}

// blockingMirror holds every Save until release is closed.
type blockingMirror struct {
	recordingMirror
	started chan struct{}
	release chan struct{}
}

func (m *blockingMirror) Save(ctx context.Context, r models.Reading) error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	<-m.release
	return m.recordingMirror.Save(ctx, r)
}

func waitMirrored(t *testing.T, m interface{ savedReadings() []models.Reading }, level float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		saved := m.savedReadings()
		if n := len(saved); n > 0 && saved[n-1].Level == level {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("level %.0f never mirrored, saved = %+v", level, m.savedReadings())
}

type stubSession struct {
	mu      sync.Mutex
	handler libmqtt.Handler
	lost    chan error
}

func (s *stubSession) Subscribe(_ string, _ byte, h libmqtt.Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return nil
}

func (s *stubSession) Publish(context.Context, string, byte, []byte) error { return nil }
func (s *stubSession) Lost() <-chan error                                  { return s.lost }
func (s *stubSession) Connected() bool                                     { return true }
func (s *stubSession) Close()                                              {}

func (s *stubSession) deliver(payload string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h("stm/dp", []byte(payload))
}

type stubDialer struct {
	session *stubSession
	dialed  chan struct{}
}

func (d *stubDialer) Dial(context.Context) (libmqtt.Session, error) {
	select {
	case d.dialed <- struct{}{}:
	default:
	}
	return d.session, nil
}

func newTestBridge(opts ...Option) (*Bridge, *service.ReadingCache, *recordingHub) {
	cache := service.NewReadingCache()
	hub := &recordingHub{}
	dialer := &stubDialer{session: &stubSession{lost: make(chan error)}, dialed: make(chan struct{}, 1)}
	return NewBridge(dialer, libmqtt.DefaultConfig("test"), cache, hub, zap.NewNop(), opts...), cache, hub
}

func TestHandleMessageUpdatesCacheThenBroadcasts(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("redis down")}
	bridge, cache, hub := newTestBridge(WithMirror(mirror, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.runMirror(ctx)

	bridge.HandleMessage("stm/dp", []byte(`{"sg": 1.042, "level": 7}`))

	snap := cache.Snapshot()
	if snap.SpecificGravity != 1.042 || snap.Level != 7 {
		t.Fatalf("cache = %+v", snap)
	}
	got := hub.published()
	if len(got) != 1 || got[0] != snap {
		t.Fatalf("published = %+v", got)
	}
	waitMirrored(t, mirror, 7)
	status := bridge.Status()
	if status.Received != 1 || status.Dropped != 0 || status.LastMessageAt == nil {
		t.Fatalf("status = %+v", status)
	}
}

func TestSlowMirrorDoesNotBlockIngestion(t *testing.T) {
	mirror := &blockingMirror{started: make(chan struct{}, 1), release: make(chan struct{})}
	bridge, cache, hub := newTestBridge(WithMirror(mirror, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.runMirror(ctx)

	bridge.HandleMessage("stm/dp", []byte(`{"level": 1}`))
	<-mirror.started

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		for level := 2; level <= 5; level++ {
			bridge.HandleMessage("stm/dp", []byte(fmt.Sprintf(`{"level": %d}`, level)))
		}
	}()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("message handling blocked on the mirror")
	}
	if cache.Snapshot().Level != 5 || len(hub.published()) != 5 {
		t.Fatalf("cache = %+v published = %d", cache.Snapshot(), len(hub.published()))
	}

	close(mirror.release)
	waitMirrored(t, mirror, 5)
	if n := len(mirror.savedReadings()); n > 2 {
		t.Fatalf("mirror saves = %d, want stale readings coalesced", n)
	}
}

func TestHandleMessageIgnoresPayloadWithoutKeys(t *testing.T) {
	bridge, cache, hub := newTestBridge()

	bridge.HandleMessage("stm/dp", []byte(`{"temp": 21}`))

	if cache.Snapshot().HasData() || len(hub.published()) != 0 {
		t.Fatal("keyless payload changed state")
	}
}

func TestMalformedPayloadKeepsBridgeSubscribed(t *testing.T) {
	cache := service.NewReadingCache()
	hub := &recordingHub{}
	session := &stubSession{lost: make(chan error)}
	dialer := &stubDialer{session: session, dialed: make(chan struct{}, 1)}
	bridge := NewBridge(dialer, libmqtt.DefaultConfig("test"), cache, hub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	<-dialer.dialed
	waitSubscribed(t, bridge)

	session.deliver("not-json")

	if cache.Snapshot().HasData() {
		t.Fatal("malformed payload mutated cache")
	}
	if len(hub.published()) != 0 {
		t.Fatal("malformed payload was broadcast")
	}
	if state := bridge.Status().State; state != libmqtt.StateSubscribed.String() {
		t.Fatalf("state = %s", state)
	}
	if bridge.Status().Dropped != 1 {
		t.Fatalf("dropped = %d", bridge.Status().Dropped)
	}

	session.deliver(`{"samples": 9}`)
	if cache.Snapshot().Level != 9 {
		t.Fatalf("valid message after malformed one not applied: %+v", cache.Snapshot())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
}

func waitSubscribed(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Status().Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bridge never subscribed, state = %s", b.Status().State)
}
