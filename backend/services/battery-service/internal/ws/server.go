package ws

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Server upgrades HTTP requests to viewer WebSockets.
type Server struct {
	hub          *Hub
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	nextID       atomic.Uint64
}

// NewServer builds ws server.
func NewServer(hub *Hub, pingInterval, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Server{
		hub:          hub,
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := "viewer-" + strconv.FormatUint(s.nextID.Add(1), 10)
	viewer := NewViewer(id, conn, s.pingInterval, s.writeTimeout, s.logger, s.hub.Unregister)
	s.hub.Register(viewer)

	go viewer.Start()
}
