package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DialWithRetry dials until the broker accepts the connection, maxTries is reached
// or ctx is cancelled.
func DialWithRetry(ctx context.Context, dialer Dialer, maxTries uint64, logger *zap.Logger) (Session, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	var session Session
	operation := func() error {
		s, err := dialer.Dial(ctx)
		if err != nil {
			return err
		}
		session = s
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("mqtt broker unavailable, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxTries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("mqtt: could not establish connection: %w", err)
	}
	return session, nil
}
