package jobs

import (
	"math/rand"
	"time"
)

// RetryPolicy controls how failed chunk attempts are retried. The delay
// doubles with each attempt, is capped at MaxDelay, and has a random
// fraction subtracted so simultaneous retries spread out.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, [0,1]
}

// DefaultRetryPolicy matches the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.5,
	}
}

// ShouldRetry reports whether another attempt is allowed after the given
// 1-based attempt number failed.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay returns the backoff before the attempt following the given 1-based
// failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		jitter := time.Duration(rand.Float64() * p.Jitter * float64(delay))
		delay -= jitter
	}
	return delay
}
