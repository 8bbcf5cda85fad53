package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/ingest"
	"batterymon/backend/services/battery-service/internal/models"
	redisstore "batterymon/backend/services/battery-service/internal/redis"
)

const mirrorReadTimeout = time.Second

// BridgeStatus reports the ingestion subscription.
type BridgeStatus interface {
	Status() ingest.Status
}

// ReadingSource returns the cached reading.
type ReadingSource interface {
	Snapshot() models.Reading
}

// ViewerCounter reports connected live viewers.
type ViewerCounter interface {
	Count() int
}

// LatestMirror reads the mirrored reading.
type LatestMirror interface {
	Get(ctx context.Context) (*redisstore.LatestReading, error)
}

type latestData struct {
	SpecificGravity float64 `json:"sg"`
	Level           float64 `json:"level"`
}

type mqttHealthResponse struct {
	Broker         string                    `json:"broker"`
	Topic          string                    `json:"topic"`
	State          string                    `json:"state"`
	Connected      bool                      `json:"connected"`
	Received       uint64                    `json:"messages_received"`
	Dropped        uint64                    `json:"messages_dropped"`
	LatestData     latestData                `json:"latest_data"`
	LastReceivedAt float64                   `json:"last_mqtt_received_at"`
	LastMessageAt  *time.Time                `json:"last_message_at"`
	Viewers        int                       `json:"viewers"`
}

// mqttHealthWithMirror is sent when a mirror is configured; mirror is null when unreadable.
type mqttHealthWithMirror struct {
	mqttHealthResponse
	Mirror *redisstore.LatestReading `json:"mirror"`
}

// MQTTHealthHandler serves GET /health/mqtt.
type MQTTHealthHandler struct {
	bridge  BridgeStatus
	cache   ReadingSource
	viewers ViewerCounter
	mirror  LatestMirror
	logger  *zap.Logger
}

// NewMQTTHealthHandler returns handler. mirror may be nil.
func NewMQTTHealthHandler(bridge BridgeStatus, cache ReadingSource, viewers ViewerCounter, mirror LatestMirror, logger *zap.Logger) *MQTTHealthHandler {
	return &MQTTHealthHandler{bridge: bridge, cache: cache, viewers: viewers, mirror: mirror, logger: logger}
}

func (h *MQTTHealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.bridge.Status()
	reading := h.cache.Snapshot()

	resp := mqttHealthResponse{
		Broker:        status.Broker,
		Topic:         status.Topic,
		State:         status.State,
		Connected:     status.Connected,
		Received:      status.Received,
		Dropped:       status.Dropped,
		LastMessageAt: status.LastMessageAt,
		Viewers:       h.viewers.Count(),
		LatestData: latestData{
			SpecificGravity: reading.SpecificGravity,
			Level:           reading.Level,
		},
	}
	if reading.HasData() {
		resp.LastReceivedAt = float64(reading.LastReceivedAt.UnixNano()) / float64(time.Second)
	}

	if h.mirror == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), mirrorReadTimeout)
	defer cancel()
	mirrored, err := h.mirror.Get(ctx)
	if err != nil {
		h.logger.Warn("failed to read latest reading mirror", zap.Error(err))
		mirrored = nil
	}
	writeJSON(w, http.StatusOK, mqttHealthWithMirror{mqttHealthResponse: resp, Mirror: mirrored})
}
