package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/dplog-consumer/internal/models"
	"batterymon/backend/services/dplog-consumer/internal/repository"
)

// Store persists samples.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, s models.Sample) (int64, error)
}

// Status reports consumer progress.
type Status struct {
	State    string `json:"state"`
	Topic    string `json:"topic"`
	Inserted uint64 `json:"inserted"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

// Consumer writes every sample published on the topic to dp_log.
type Consumer struct {
	subscriber *libmqtt.Subscriber
	store      Store
	timeout    time.Duration
	logger     *zap.Logger

	inserted atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewConsumer builds consumer for cfg.Topic.
func NewConsumer(dialer libmqtt.Dialer, cfg libmqtt.Config, store Store, timeout time.Duration, logger *zap.Logger, opts ...libmqtt.SubscriberOption) *Consumer {
	c := &Consumer{
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
	c.subscriber = libmqtt.NewSubscriber(dialer, cfg, c.HandleMessage, logger.Named("mqtt"), opts...)
	return c
}

// Run provisions dp_log and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.ensureSchema(ctx)
	return c.subscriber.Run(ctx)
}

// HandleMessage decodes and stores one payload.
func (c *Consumer) HandleMessage(topic string, payload []byte) {
	sample, err := DecodeSample(payload)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warn("dropping malformed message", zap.String("topic", topic), zap.Error(err))
		return
	}

	id, err := c.insert(sample)
	if errors.Is(err, repository.ErrSchemaMissing) {
		c.logger.Warn("dp_log missing, provisioning before retry", zap.Error(err))
		c.ensureSchema(context.Background())
		id, err = c.insert(sample)
	}
	if err != nil {
		c.failed.Add(1)
		c.logger.Error("failed to store sample", zap.Float64("dp_pa", sample.DPPa), zap.Error(err))
		return
	}

	c.inserted.Add(1)
	c.logger.Debug("sample stored",
		zap.Int64("id", id),
		zap.Float64("dp_pa", sample.DPPa),
		zap.Int64("samples", sample.Samples),
	)
}

// Status returns counters and subscription state.
func (c *Consumer) Status() Status {
	return Status{
		State:    c.subscriber.State().String(),
		Topic:    c.subscriber.Topic(),
		Inserted: c.inserted.Load(),
		Dropped:  c.dropped.Load(),
		Failed:   c.failed.Load(),
	}
}

func (c *Consumer) insert(s models.Sample) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.store.Insert(ctx, s)
}

func (c *Consumer) ensureSchema(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.EnsureSchema(ctx); err != nil {
		c.logger.Error("dp_log provisioning failed", zap.Error(err))
	}
}
