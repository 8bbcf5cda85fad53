package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/sensor-simulator/internal/config"
)

func testRanges() map[string]config.Range {
	return map[string]config.Range{
		"sg":      {Min: 1.1, Max: 1.3},
		"level":   {Min: 0, Max: 100},
		"dp_pa":   {Min: 45, Max: 50},
		"samples": {Min: 5, Max: 15},
	}
}

func TestGeneratorStaysInRange(t *testing.T) {
	gen := NewGenerator(testRanges(), 42)
	for i := 0; i < 1000; i++ {
		r := gen.Next()
		if r.SpecificGravity < 1.1 || r.SpecificGravity > 1.3 {
			t.Fatalf("sg out of range: %v", r.SpecificGravity)
		}
		if r.Level < 0 || r.Level > 100 {
			t.Fatalf("level out of range: %v", r.Level)
		}
		if r.DPPa < 45 || r.DPPa > 50 {
			t.Fatalf("dp_pa out of range: %v", r.DPPa)
		}
		if r.Samples < 5 || r.Samples > 15 {
			t.Fatalf("samples out of range: %v", r.Samples)
		}
	}
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	a, b := NewGenerator(testRanges(), 7), NewGenerator(testRanges(), 7)
	for i := 0; i < 10; i++ {
		if a.Next() != b.Next() {
			t.Fatal("same seed produced different readings")
		}
	}
}

func TestEncodeUsesWireKeys(t *testing.T) {
	raw, err := Encode(Reading{SpecificGravity: 1.2, Level: 50, DPPa: 47.5, Samples: 9})
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]float64
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["sg"] != 1.2 || doc["level"] != 50 || doc["dp_pa"] != 47.5 || doc["samples"] != 9 {
		t.Fatalf("payload = %s", raw)
	}
}

type recordingSession struct {
	mu        sync.Mutex
	published [][]byte
	lost      chan error
	closed    bool
}

func (s *recordingSession) Subscribe(string, byte, libmqtt.Handler) error { return nil }

func (s *recordingSession) Publish(_ context.Context, _ string, _ byte, payload []byte) error {
	s.mu.Lock()
	s.published = append(s.published, payload)
	s.mu.Unlock()
	return nil
}

func (s *recordingSession) Lost() <-chan error { return s.lost }
func (s *recordingSession) Connected() bool    { return true }

func (s *recordingSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

type queueDialer struct {
	mu       sync.Mutex
	sessions []*recordingSession
	dials    int
}

func (d *queueDialer) Dial(context.Context) (libmqtt.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.sessions) == 0 {
		return nil, errors.New("broker unreachable")
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	return s, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestPublisherRedialsAfterLostConnection(t *testing.T) {
	first := &recordingSession{lost: make(chan error, 1)}
	second := &recordingSession{lost: make(chan error, 1)}
	dialer := &queueDialer{sessions: []*recordingSession{first, second}}
	pub := NewPublisher(dialer, libmqtt.DefaultConfig("sim"), 10*time.Millisecond, 0, NewGenerator(testRanges(), 1), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	waitFor(t, func() bool { return first.count() >= 2 })
	first.lost <- errors.New("keepalive timeout")
	waitFor(t, func() bool { return second.count() >= 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if !first.closed {
		t.Fatal("lost session not closed")
	}
}

func TestPublisherGivesUpWhenBrokerUnreachable(t *testing.T) {
	dialer := &queueDialer{}
	pub := NewPublisher(dialer, libmqtt.DefaultConfig("sim"), time.Second, 0, NewGenerator(testRanges(), 1), zap.NewNop())

	if err := pub.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if dialer.dials != 1 {
		t.Fatalf("dials = %d", dialer.dials)
	}
}
