package simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
)

// Publisher sends a generated reading every interval.
type Publisher struct {
	dialer   libmqtt.Dialer
	topic    string
	qos      byte
	interval time.Duration
	retries  uint64
	gen      *Generator
	logger   *zap.Logger
}

// NewPublisher builds publisher.
func NewPublisher(dialer libmqtt.Dialer, cfg libmqtt.Config, interval time.Duration, retries uint64, gen *Generator, logger *zap.Logger) *Publisher {
	return &Publisher{
		dialer:   dialer,
		topic:    cfg.Topic,
		qos:      byte(cfg.QoS),
		interval: interval,
		retries:  retries,
		gen:      gen,
		logger:   logger,
	}
}

// Run publishes until ctx is cancelled, redialing when the connection drops.
// It returns an error only when the broker cannot be reached within the retry budget.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		session, err := libmqtt.DialWithRetry(ctx, p.dialer, p.retries, p.logger)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.logger.Info("simulator connected", zap.String("topic", p.topic), zap.Duration("interval", p.interval))

		err = p.publishLoop(ctx, session)
		session.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("simulator connection lost, reconnecting", zap.Error(err))
	}
}

func (p *Publisher) publishLoop(ctx context.Context, session libmqtt.Session) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.publishOne(ctx, session); err != nil {
			p.logger.Warn("publish failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-session.Lost():
			return err
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOne(ctx context.Context, session libmqtt.Session) error {
	reading := p.gen.Next()
	payload, err := Encode(reading)
	if err != nil {
		return err
	}
	if err := session.Publish(ctx, p.topic, p.qos, payload); err != nil {
		return err
	}
	p.logger.Info("published",
		zap.Float64("sg", reading.SpecificGravity),
		zap.Float64("level", reading.Level),
		zap.Float64("dp_pa", reading.DPPa),
		zap.Int("samples", reading.Samples),
	)
	return nil
}
