package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	maxReadBytes = 4096
)

// Viewer is a live dashboard WebSocket connection. Inbound frames are read only
// to service control messages and are otherwise discarded.
type Viewer struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
	onClose      func(id string)
}

// NewViewer wraps conn.
func NewViewer(id string, conn *websocket.Conn, pingInterval, writeTimeout time.Duration, logger *zap.Logger, onClose func(string)) *Viewer {
	return &Viewer{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger,
		onClose:      onClose,
	}
}

// ID returns identifier.
func (v *Viewer) ID() string {
	return v.id
}

// Send enqueues msg for writing.
func (v *Viewer) Send(msg []byte) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops both pumps; the write pump sends a close frame and closes the socket.
// Safe to call more than once.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
		if v.onClose != nil {
			v.onClose(v.id)
		}
	})
}

// Start runs the write pump in the background and the read pump until the peer goes away.
func (v *Viewer) Start() {
	go v.writePump()
	v.readPump()
}

func (v *Viewer) readPump() {
	defer v.Close()

	deadline := v.pingInterval * 2
	v.conn.SetReadLimit(maxReadBytes)
	_ = v.conn.SetReadDeadline(time.Now().Add(deadline))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.logger.Info("viewer read closed", zap.String("viewer_id", v.id), zap.Error(err))
			}
			return
		}
	}
}

func (v *Viewer) writePump() {
	ticker := time.NewTicker(v.pingInterval)
	defer ticker.Stop()
	defer v.conn.Close()
	defer v.Close()

	for {
		select {
		case <-v.done:
			_ = v.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-v.send:
			if err := v.write(websocket.TextMessage, msg); err != nil {
				v.logger.Debug("viewer write failed", zap.String("viewer_id", v.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := v.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (v *Viewer) write(messageType int, data []byte) error {
	_ = v.conn.SetWriteDeadline(time.Now().Add(v.writeTimeout))
	return v.conn.WriteMessage(messageType, data)
}
