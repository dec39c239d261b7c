// internal/dispatch/backoff.go
package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a retry attempt: exponential from
// Base, capped at Cap, with +/-Jitter fraction of randomization so retries
// from a burst of failures do not land on the provider in lockstep.
type BackoffPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction in [0, 1)
}

// Delay returns the wait before the given attempt (1-based: attempt 1 is the
// first retry). A provider-supplied retryAfter hint wins when it is longer
// than the computed delay.
func (p BackoffPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}

	if p.Jitter > 0 {
		// Uniform in [d*(1-jitter), d*(1+jitter)].
		d = d * (1 - p.Jitter + 2*p.Jitter*rand.Float64())
	}

	delay := time.Duration(d)
	if retryAfter > delay {
		return retryAfter
	}
	return delay
}
