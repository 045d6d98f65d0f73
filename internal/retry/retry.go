// Package retry re-runs operations that failed with a transient backend error.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cardvault/dualrepo/pkg/constants"
)

// Retryer decides how long to wait before the next attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether another attempt should be made at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoff grows the delay by Multiplier on every attempt.
type ExponentialBackoff struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the computed delay
	MaxDelay time.Duration

	Multiplier float64

	// MaxRetries is the number of retries after the first attempt (0 for none)
	MaxRetries int

	// JitterFactor randomizes each delay by up to +/- the given fraction
	JitterFactor float64
}

// NewExponentialBackoff returns the backoff used by the storage drivers.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   8,
		JitterFactor: 0.3,
	}
}

// NextDelay implements Retryer
func (r *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if attempt >= r.MaxRetries {
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

// Fixed waits the same delay between attempts.
type Fixed struct {
	Delay      time.Duration
	MaxRetries int
}

// NextDelay implements Retryer
func (r Fixed) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Do calls fn until it succeeds, returns a non transient error, the retryer
// gives up, or ctx is done. The last error is returned.
func Do(ctx context.Context, r Retryer, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !constants.IsTransient(err) {
			return err
		}

		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
