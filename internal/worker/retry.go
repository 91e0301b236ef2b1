package worker

import (
	"math"
	"time"
)

// RetryPolicy schedules retries for failed report tasks. The zero value
// normalizes itself, so callers may pass RetryPolicy{} and get the
// defaults.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Minute
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	return r
}

// Next returns the exponential backoff before the given attempt (1-based)
// and false once the retry budget is spent and the task belongs in the
// dead letter queue.
func (r RetryPolicy) Next(attempt int) (time.Duration, bool) {
	r = r.normalized()
	if attempt >= r.MaxRetries {
		return 0, false
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1)))
	if delay > r.MaxDelay || delay <= 0 {
		delay = r.MaxDelay
	}
	return delay, true
}
