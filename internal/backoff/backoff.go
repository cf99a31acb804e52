// Package backoff computes the exponential-with-jitter delay between
// platform-fetch retry attempts (spec §4.4), grounded in
// original_source/app/utils/backoff.py. It wraps cenkalti/backoff/v5's
// ExponentialBackOff for the base curve and applies the spec's symmetric
// jitter band on top, since the library's own jitter (RandomizationFactor)
// is single-sided around the computed delay rather than the
// delay±delay*jitter_pct band the original specifies.
package backoff

import (
	"math/rand"
	"time"

	cenkalti "github.com/cenkalti/backoff/v5"
)

// Policy holds the tunables for one backoff curve.
type Policy struct {
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	JitterPct   float64
	MaxAttempts int
}

// Compute returns the delay before retry attempt, where attempt is 1-indexed
// (the delay before the *second* call, after the first failed). Matches
// original_source's compute_backoff_seconds(attempt, ...).
func Compute(policy Policy, attempt int, rng *rand.Rand) time.Duration {
	eb := cenkalti.NewExponentialBackOff()
	eb.InitialInterval = policy.Base
	eb.Multiplier = policy.Factor
	eb.MaxInterval = policy.Max
	eb.RandomizationFactor = 0 // the spec's own symmetric jitter replaces the library's

	// Walk the curve's own interval field rather than calling NextBackOff,
	// which mutates internal clock/retry state meant for a live Retry loop;
	// here we only want the Nth interval in isolation.
	delay := eb.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * eb.Multiplier)
		if delay > eb.MaxInterval {
			delay = eb.MaxInterval
			break
		}
	}
	if delay > policy.Max {
		delay = policy.Max
	}

	if policy.JitterPct <= 0 {
		return delay
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	band := float64(delay) * policy.JitterPct
	jittered := float64(delay) + (rng.Float64()*2-1)*band
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
