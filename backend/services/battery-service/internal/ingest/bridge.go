package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/battery-service/internal/models"
	"batterymon/backend/services/battery-service/internal/service"
)

const (
	defaultMirrorTimeout = 500 * time.Millisecond
	restartDelay         = time.Second
)

// Cache receives decoded updates.
type Cache interface {
	Update(u service.ReadingUpdate) (models.Reading, bool)
}

// Broadcaster fans a reading out to live viewers.
type Broadcaster interface {
	Publish(reading models.Reading)
}

// Mirror keeps a copy of the latest reading outside the process.
type Mirror interface {
	Save(ctx context.Context, reading models.Reading) error
}

// Status describes the bridge for health reporting.
type Status struct {
	State         string     `json:"state"`
	Connected     bool       `json:"connected"`
	Broker        string     `json:"broker"`
	Topic         string     `json:"topic"`
	Received      uint64     `json:"messages_received"`
	Dropped       uint64     `json:"messages_dropped"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// Bridge connects the broker subscription to the reading cache and the viewer hub.
type Bridge struct {
	subscriber *libmqtt.Subscriber
	broker     string
	cache      Cache
	hub        Broadcaster
	mirror     Mirror
	mirrorTTL  time.Duration
	mirrorQ    chan models.Reading
	logger     *zap.Logger

	subOpts []libmqtt.SubscriberOption

	received atomic.Uint64
	dropped  atomic.Uint64
	lastAt   atomic.Int64
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithMirror stores applied readings in m from a background goroutine. When m falls behind
// only the newest pending reading is kept.
func WithMirror(m Mirror, timeout time.Duration) Option {
	return func(b *Bridge) {
		b.mirror = m
		if timeout > 0 {
			b.mirrorTTL = timeout
		}
	}
}

// WithSubscriberOptions forwards options to the underlying subscriber.
func WithSubscriberOptions(opts ...libmqtt.SubscriberOption) Option {
	return func(b *Bridge) {
		b.subOpts = append(b.subOpts, opts...)
	}
}

// NewBridge builds bridge subscribed to cfg.Topic.
func NewBridge(dialer libmqtt.Dialer, cfg libmqtt.Config, cache Cache, hub Broadcaster, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		broker:    cfg.Address(),
		cache:     cache,
		hub:       hub,
		mirrorTTL: defaultMirrorTimeout,
		mirrorQ:   make(chan models.Reading, 1),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.subscriber = libmqtt.NewSubscriber(dialer, cfg, b.HandleMessage, logger.Named("mqtt"), b.subOpts...)
	return b
}

// HandleMessage decodes one payload and applies it. Malformed payloads are logged and dropped.
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	b.received.Add(1)

	update, err := DecodeReading(payload)
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warn("dropping malformed message",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return
	}

	reading, applied := b.cache.Update(update)
	if !applied {
		b.logger.Debug("message carried no telemetry keys", zap.String("topic", topic))
		return
	}
	b.lastAt.Store(reading.LastReceivedAt.UnixNano())
	b.hub.Publish(reading)

	if b.mirror != nil {
		b.enqueueMirror(reading)
	}
}

func (b *Bridge) enqueueMirror(reading models.Reading) {
	for {
		select {
		case b.mirrorQ <- reading:
			return
		default:
		}
		// Full: discard the stale pending reading and try again.
		select {
		case <-b.mirrorQ:
		default:
		}
	}
}

func (b *Bridge) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-b.mirrorQ:
			saveCtx, cancel := context.WithTimeout(ctx, b.mirrorTTL)
			err := b.mirror.Save(saveCtx, reading)
			cancel()
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("latest reading mirror failed", zap.Error(err))
			}
		}
	}
}

// Run keeps the subscription alive until ctx is cancelled. An unexpected exit of the
// subscriber loop is logged and the loop restarted.
func (b *Bridge) Run(ctx context.Context) error {
	if b.mirror != nil {
		go b.runMirror(ctx)
	}
	for {
		err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Error("ingestion loop exited, restarting", zap.Error(err))

		timer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *Bridge) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion loop panic: %v", r)
		}
	}()
	return b.subscriber.Run(ctx)
}

// Status returns a health view of the bridge.
func (b *Bridge) Status() Status {
	state := b.subscriber.State()
	status := Status{
		State:     state.String(),
		Connected: state == libmqtt.StateSubscribed,
		Broker:    b.broker,
		Topic:     b.subscriber.Topic(),
		Received:  b.received.Load(),
		Dropped:   b.dropped.Load(),
	}
	if ns := b.lastAt.Load(); ns != 0 {
		at := time.Unix(0, ns).UTC()
		status.LastMessageAt = &at
	}
	return status
}
