package webrtc

import (
	"context"
	"errors"
	"time"

	"github.com/rescp17/peerCall/pkg/signaling"
)

// RetryPolicy controls how often the relay dial is retried.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Second,
	}
}

// Delay is the wait before retry number retryCount (zero based).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < retryCount; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// retryable reports whether a failed dial is worth repeating. A relay that
// answered with an unusable address or scheme will not get better.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var bad *signaling.AddressError
	return !errors.As(err, &bad)
}

func (t *Transport) dialWithRetry(ctx context.Context) (RelayClient, error) {
	for attempt := 0; ; attempt++ {
		client, err := t.dial(ctx, t.address)
		if err == nil {
			return client, nil
		}
		if attempt >= t.retry.MaxRetries || !retryable(err) {
			return nil, err
		}

		delay := t.retry.Delay(attempt)
		t.logger.Warn("Relay dial failed, will retry", "relay", t.address, "error", err, "attempt", attempt+1, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
