// Package fetcher implements the resilient platform-fetch wrapper (spec
// §4.5), grounded in
// original_source/app/services/platform_fetcher.py: circuit breaker
// gate, bounded retry with exponential backoff, and error classification
// by message substring into rate-limit / auth / generic fetch failures.
package fetcher

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/P4R1H/affiliate-platform/internal/backoff"
	"github.com/P4R1H/affiliate-platform/internal/breaker"
	"github.com/P4R1H/affiliate-platform/internal/clock"
	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/internal/shared/logging"
)

// Metrics is the raw shape an Adapter returns: each field nil means the
// platform didn't report that metric on this call.
type Metrics struct {
	Views       *int64
	Clicks      *int64
	Conversions *int64
}

// Adapter fetches authoritative metrics for a single post URL from one
// platform integration. Implementations live one per platform (tiktok,
// instagram, youtube, ...) and are registered in the AdapterRegistry.
type Adapter interface {
	FetchPostMetrics(ctx context.Context, postURL string) (Metrics, error)
}

// AdapterRegistry resolves a platform name (lowercase key) to its Adapter,
// mirroring original_source's dynamic `app.integrations.<platform>` import
// with a static map instead, since Go has no runtime module lookup.
type AdapterRegistry map[string]Adapter

// Error codes returned on FetchOutcome, stable identifiers consumed by the
// engine and persisted on ReconciliationLog.error_code.
const (
	ErrorCircuitOpen  = "circuit_open"
	ErrorRateLimited  = "rate_limited"
	ErrorAuthFailure  = "auth_error"
	ErrorFetchFailure = "fetch_error"
	ErrorNoAdapter    = "adapter_missing"
)

// Outcome is the result of one fetch() call, aggregating every attempt made.
type Outcome struct {
	Success        bool
	Metrics        *Metrics
	PartialMissing []string // metric names ("views"|"clicks"|"conversions") absent from Metrics
	Attempts       int
	ErrorCode      string
	ErrorMessage   string
	RateLimited    bool
}

var allMetricNames = []string{"views", "clicks", "conversions"}

// Fetcher wraps the breaker+backoff+adapter dispatch described in spec
// §4.5.
type Fetcher struct {
	Registry AdapterRegistry
	Breakers *breaker.Registry
	Policy   backoff.Policy
	Clock    clock.Clock
	Rng      *rand.Rand
	Log      logging.Fields
}

// New constructs a Fetcher from the reconciliation config's backoff policy.
func New(registry AdapterRegistry, breakers *breaker.Registry, cfg *config.BackoffPolicyConfig, clk clock.Clock) *Fetcher {
	return &Fetcher{
		Registry: registry,
		Breakers: breakers,
		Policy: backoff.Policy{
			Base:        cfg.Base,
			Factor:      cfg.Factor,
			Max:         cfg.Max,
			JitterPct:   cfg.JitterPct,
			MaxAttempts: cfg.MaxAttempts,
		},
		Clock: clk,
	}
}

// Fetch runs the breaker-gated retry loop against the named platform's
// adapter for postURL.
func (f *Fetcher) Fetch(ctx context.Context, platformName, postURL string) Outcome {
	allowed, reason := f.Breakers.For(platformName).AllowCall(platformName)
	if !allowed {
		return Outcome{
			Success:        false,
			PartialMissing: allMetricNames,
			Attempts:       0,
			ErrorCode:      ErrorCircuitOpen,
			ErrorMessage:   "circuit breaker denies call: " + errString(reason),
		}
	}

	adapter, ok := f.Registry[strings.ToLower(platformName)]
	if !ok {
		return Outcome{
			Success:        false,
			PartialMissing: allMetricNames,
			Attempts:       0,
			ErrorCode:      ErrorNoAdapter,
			ErrorMessage:   "no adapter registered for platform " + platformName,
		}
	}

	maxAttempts := f.Policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		attempts         int
		lastErrorCode    string
		lastErrorMessage string
		rateLimited      bool
	)

	for attempts < maxAttempts {
		attempts++
		metrics, err := adapter.FetchPostMetrics(ctx, postURL)
		if err == nil {
			breakerHandle := f.Breakers.For(platformName)
			breakerHandle.RecordSuccess()
			return Outcome{
				Success:        true,
				Metrics:        &metrics,
				PartialMissing: missingMetrics(metrics),
				Attempts:       attempts,
			}
		}

		code, message := classifyError(err)
		lastErrorCode = code
		lastErrorMessage = message
		breakerHandle := f.Breakers.For(platformName)

		if code == ErrorRateLimited {
			rateLimited = true
		}
		if code == ErrorAuthFailure {
			breakerHandle.RecordFailure()
			break // terminal: auth errors never benefit from retrying
		}

		breakerHandle.RecordFailure()
		if attempts >= maxAttempts {
			break
		}

		delay := backoff.Compute(f.Policy, attempts, f.Rng)
		if f.Clock != nil {
			f.Clock.Sleep(delay)
		} else {
			time.Sleep(delay)
		}
	}

	return Outcome{
		Success:        false,
		PartialMissing: allMetricNames,
		Attempts:       attempts,
		ErrorCode:      lastErrorCode,
		ErrorMessage:   lastErrorMessage,
		RateLimited:    rateLimited,
	}
}

// classifyError maps an adapter error to a stable error code by
// case-insensitive substring match on its message, exactly as
// original_source's _call_adapter does: "rate limit" -> rate-limited;
// "auth"/"401"/"403" -> auth error; anything else -> generic fetch error.
func classifyError(err error) (code, message string) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"):
		return ErrorRateLimited, msg
	case strings.Contains(lower, "auth") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return ErrorAuthFailure, msg
	default:
		return ErrorFetchFailure, msg
	}
}

func missingMetrics(m Metrics) []string {
	var missing []string
	if m.Views == nil {
		missing = append(missing, "views")
	}
	if m.Clicks == nil {
		missing = append(missing, "clicks")
	}
	if m.Conversions == nil {
		missing = append(missing, "conversions")
	}
	return missing
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
