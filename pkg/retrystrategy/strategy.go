// Package retrystrategy provides the pure retry-delay functions EventTask
// and the dependency dispatcher schedule retries with: fixed, exponential,
// linear and jitter, each a function of a 1-based attempt number.
package retrystrategy

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Func computes the delay before a given 1-based retry attempt.
type Func func(attempt int) time.Duration

// Fixed always waits d, regardless of attempt.
func Fixed(d time.Duration) Func {
	return func(attempt int) time.Duration {
		return d
	}
}

// Exponential doubles the delay every attempt starting from base, capped at
// max when max > 0 and at backoff.DefaultMaxInterval (60s) otherwise. The
// curve is produced by driving
// cenkalti/backoff's ExponentialBackOff through its own NextBackOff calls
// (one per attempt) rather than re-deriving the doubling-and-cap math by
// hand: NextBackOff both returns the current interval and advances it,
// so the attempt-th call is exactly this attempt's delay.
func Exponential(base time.Duration, max time.Duration) Func {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0
		if max > 0 {
			b.MaxInterval = max
		} else {
			b.MaxInterval = backoff.DefaultMaxInterval
		}
		b.MaxElapsedTime = 0 // never give up on its own; the caller owns the retry budget
		b.Reset()

		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
		}
		return delay
	}
}

// Linear grows by inc per attempt past the first, starting at base, capped
// at max when max > 0.
func Linear(base, inc time.Duration, max time.Duration) Func {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base + inc*time.Duration(attempt-1)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Jitter adds up to factor*delay of random slack on top of an exponential
// curve, so concurrently-retrying tasks don't all wake up at once.
func Jitter(base time.Duration, factor float64) Func {
	if factor <= 0 {
		factor = 0.5
	}
	exp := Exponential(base, 0)
	return func(attempt int) time.Duration {
		d := exp(attempt)
		jitter := time.Duration(float64(d) * factor * rand.Float64())
		return d + jitter
	}
}
