package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/models"
)

// EventBatteryUpdate is the event name of every live reading message.
const EventBatteryUpdate = "batteryUpdate"

// Peer is one connected viewer.
type Peer interface {
	ID() string
	// Send enqueues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	Close()
}

// ReadingSource returns the reading new viewers catch up to.
type ReadingSource interface {
	Snapshot() models.Reading
}

type updatePayload struct {
	Gravity float64 `json:"gravity"`
	Level   float64 `json:"level"`
}

type envelope struct {
	Event string        `json:"event"`
	Data  updatePayload `json:"data"`
}

// EncodeUpdate renders reading as a batteryUpdate message.
func EncodeUpdate(reading models.Reading) ([]byte, error) {
	return json.Marshal(envelope{
		Event: EventBatteryUpdate,
		Data: updatePayload{
			Gravity: reading.SpecificGravity,
			Level:   reading.Level,
		},
	})
}

// Hub tracks connected viewers and fans readings out to them.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	source ReadingSource
	logger *zap.Logger
}

// NewHub builds viewer hub.
func NewHub(source ReadingSource, logger *zap.Logger) *Hub {
	return &Hub{
		peers:  make(map[string]Peer),
		source: source,
		logger: logger,
	}
}

// Register adds peer and sends it the current reading first.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, err := EncodeUpdate(h.source.Snapshot())
	if err != nil {
		h.logger.Error("encode catch-up reading", zap.Error(err))
	} else if !p.Send(msg) {
		h.logger.Warn("viewer rejected catch-up reading", zap.String("viewer_id", p.ID()))
	}
	h.peers[p.ID()] = p
	h.logger.Info("viewer connected", zap.String("viewer_id", p.ID()), zap.Int("viewers", len(h.peers)))
}

// Unregister forgets peer. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return
	}
	delete(h.peers, id)
	h.logger.Info("viewer disconnected", zap.String("viewer_id", id), zap.Int("viewers", len(h.peers)))
}

// Publish sends reading to every registered viewer. Viewers that cannot keep up are dropped.
func (h *Hub) Publish(reading models.Reading) {
	msg, err := EncodeUpdate(reading)
	if err != nil {
		h.logger.Error("encode reading", zap.Error(err))
		return
	}

	var slow []Peer
	h.mu.RLock()
	for _, p := range h.peers {
		if !p.Send(msg) {
			slow = append(slow, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range slow {
		h.logger.Warn("dropping slow viewer", zap.String("viewer_id", p.ID()))
		h.Unregister(p.ID())
		p.Close()
	}
}

// Count returns number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Run blocks until ctx is done and then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	peers := make([]Peer, 0, len(h.peers))
	for id, p := range h.peers {
		peers = append(peers, p)
		delete(h.peers, id)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	h.logger.Info("viewer hub stopped", zap.Int("closed", len(peers)))
}
