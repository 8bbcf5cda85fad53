package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// State is the connection lifecycle of a Subscriber.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// NewReconnectBackOff returns a deterministic doubling backoff between floor and ceiling
// that never gives up.
func NewReconnectBackOff(floor, ceiling time.Duration) *backoff.ExponentialBackOff {
	floor = orDefault(floor, defaultReconnectMin)
	ceiling = orDefault(ceiling, defaultReconnectMax)
	if ceiling < floor {
		ceiling = floor
	}
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(floor),
		backoff.WithMaxInterval(ceiling),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// Subscriber keeps one topic subscription alive for the life of Run, reconnecting with
// backoff whenever the broker connection fails or drops.
type Subscriber struct {
	dialer  Dialer
	topic   string
	qos     byte
	handler Handler
	backoff backoff.BackOff
	wait    WaitFunc
	logger  *zap.Logger

	state atomic.Int32
}

// SubscriberOption customises a Subscriber.
type SubscriberOption func(*Subscriber)

// WithBackOff replaces the reconnect policy.
func WithBackOff(b backoff.BackOff) SubscriberOption {
	return func(s *Subscriber) {
		s.backoff = b
	}
}

// WithWait replaces the timer used between reconnect attempts.
func WithWait(wait WaitFunc) SubscriberOption {
	return func(s *Subscriber) {
		s.wait = wait
	}
}

// NewSubscriber builds subscriber for cfg.Topic.
func NewSubscriber(dialer Dialer, cfg Config, handler Handler, logger *zap.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		dialer:  dialer,
		topic:   cfg.Topic,
		qos:     byte(cfg.QoS),
		handler: handler,
		backoff: NewReconnectBackOff(cfg.ReconnectMin, cfg.ReconnectMax),
		wait:    sleepContext,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns current lifecycle state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Topic returns subscribed topic filter.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Run connects, subscribes and waits for disconnects until ctx is cancelled.
// It only returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context) error {
	s.backoff.Reset()
	defer s.setState(StateDisconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting)
		session, err := s.connect(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.retry(ctx, "mqtt connect failed", err); err != nil {
				return err
			}
			continue
		}

		s.backoff.Reset()
		s.setState(StateSubscribed)
		s.logger.Info("mqtt subscribed", zap.String("topic", s.topic))

		select {
		case <-ctx.Done():
			session.Close()
			return ctx.Err()
		case lostErr := <-session.Lost():
			session.Close()
			s.setState(StateDisconnected)
			if err := s.retry(ctx, "mqtt connection lost", lostErr); err != nil {
				return err
			}
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) (Session, error) {
	session, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := session.Subscribe(s.topic, s.qos, s.dispatch); err != nil {
		session.Close()
		return nil, fmt.Errorf("mqtt: subscribe %s: %w", s.topic, err)
	}
	return session, nil
}

func (s *Subscriber) retry(ctx context.Context, msg string, cause error) error {
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = defaultReconnectMax
	}
	s.logger.Warn(msg, zap.Error(cause), zap.String("topic", s.topic), zap.Duration("retry_in", delay))
	return s.wait(ctx, delay)
}

// dispatch shields the receive loop from handler panics.
func (s *Subscriber) dispatch(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mqtt handler panic", zap.Any("panic", r), zap.String("topic", topic))
		}
	}()
	s.handler(topic, payload)
}

func (s *Subscriber) setState(state State) {
	if State(s.state.Swap(int32(state))) != state {
		s.logger.Debug("mqtt state changed", zap.Stringer("state", state))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
