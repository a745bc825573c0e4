package syncqueue

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides when Run tries again after a drain stopped on a failed
// mutation. Without one, replay waits for the next Notify.
type Retryer interface {
	// NextDelay returns the wait before the next drain. attempt counts
	// consecutive failed drains starting at 0. The bool is false when Run
	// should stop retrying on its own and wait for Notify instead.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a drain empties the queue.
	Reset()
}

// ExponentialBackoffRetryer doubles (by Multiplier) the wait after every
// failed drain, up to MaxDelay.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries bounds the timer driven retries; 0 means no bound.
	MaxRetries int

	// JitterFactor spreads each delay by up to ± this fraction. 0 disables
	// jitter.
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer starting at one second and
// capped at thirty, with 30% jitter.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same Delay after every failed drain.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}
