package kernel

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newReconnectBackOff builds the exponential reconnect schedule. It never
// gives up and carries no jitter.
func newReconnectBackOff(cfg config) backoff.BackOff {
	var policy backoff.BackOff
	if cfg.newBackOff != nil {
		policy = cfg.newBackOff()
	} else {
		policy = &backoff.ExponentialBackOff{
			InitialInterval:     cfg.reconnectInitial,
			RandomizationFactor: 0,
			Multiplier:          cfg.reconnectMultiplier,
			MaxInterval:         cfg.reconnectMax,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}
	}
	policy.Reset()

	maximum := cfg.reconnectMax
	if maximum < cfg.reconnectInitial {
		maximum = cfg.reconnectInitial
	}

	return &boundedBackOff{BackOff: policy, minimum: cfg.reconnectInitial, maximum: maximum}
}

// boundedBackOff clamps every delay into [minimum, maximum] and maps Stop to
// the maximum so reconnects continue until shutdown.
type boundedBackOff struct {
	backoff.BackOff
	minimum time.Duration
	maximum time.Duration
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	delay := b.BackOff.NextBackOff()
	switch {
	case delay == backoff.Stop, delay > b.maximum:
		return b.maximum
	case delay < b.minimum:
		return b.minimum
	default:
		return delay
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
