// Package breaker implements the per-platform circuit breaker (spec §4.3),
// grounded in original_source/app/utils/circuit_breaker.py. It is
// deliberately hand-rolled rather than built on sony/gobreaker: gobreaker
// closes a half-open circuit only after N consecutive successes, while this
// spec closes on the first success seen while half-open. See DESIGN.md.
package breaker

import (
	"sync"
	"time"

	"github.com/P4R1H/affiliate-platform/internal/clock"
	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
)

// State is a breaker's current position in the CLOSED/OPEN/HALF_OPEN cycle.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config tunes one breaker instance.
type Config struct {
	FailureThreshold int
	OpenCooldown     time.Duration
	HalfOpenProbes   int
}

// Snapshot is a point-in-time, read-only view of a breaker's internals, for
// diagnostics and tests.
type Snapshot struct {
	State          State
	Failures       int
	OpenedAt       *time.Time
	HalfOpenProbes int
}

// Breaker guards calls to a single external collaborator (one platform
// adapter). Not safe to copy after first use.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	state    State
	failures int
	openedAt *time.Time
	probes   int
}

// New constructs a breaker starting CLOSED.
func New(cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.Real
	}
	return &Breaker{cfg: cfg, clock: clk, state: Closed}
}

// AllowCall reports whether a call may proceed. A denial returns an
// *apperrors.AppError of type ErrorTypeCircuitOpen describing why.
func (b *Breaker) AllowCall(platform string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, nil
	case Open:
		if b.openedAt != nil && b.clock.Now().Sub(*b.openedAt) >= b.cfg.OpenCooldown {
			b.state = HalfOpen
			b.probes = 0
			return b.allowHalfOpenLocked(platform)
		}
		return false, apperrors.NewCircuitOpenError(platform).WithDetails("cooldown_not_elapsed")
	case HalfOpen:
		return b.allowHalfOpenLocked(platform)
	default:
		return true, nil
	}
}

func (b *Breaker) allowHalfOpenLocked(platform string) (bool, error) {
	if b.probes >= b.cfg.HalfOpenProbes {
		return false, apperrors.NewCircuitOpenError(platform).WithDetails("half_open_probe_exhausted")
	}
	b.probes++
	return true, nil
}

// RecordSuccess closes the breaker immediately: a single success while
// HALF_OPEN is sufficient to trust the collaborator again, and a success
// while CLOSED simply resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.openedAt = nil
	b.probes = 0
}

// RecordFailure accounts a failed call. While CLOSED, the breaker opens once
// failures reach the configured threshold. While HALF_OPEN, any single
// failure reopens it regardless of the probe count reached so far.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.openLocked()
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case Open:
		// already open; nothing to do
	}
}

func (b *Breaker) openLocked() {
	now := b.clock.Now()
	b.state = Open
	b.openedAt = &now
	b.probes = 0
}

// Snapshot returns a copy of the breaker's current internals.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var opened *time.Time
	if b.openedAt != nil {
		t := *b.openedAt
		opened = &t
	}
	return Snapshot{
		State:          b.state,
		Failures:       b.failures,
		OpenedAt:       opened,
		HalfOpenProbes: b.probes,
	}
}

// Registry owns one Breaker per platform, created lazily on first access.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry that constructs breakers with cfg on first
// use of each platform name.
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	return &Registry{cfg: cfg, clock: clk, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for platform, creating it if this is the first
// call for that platform.
func (r *Registry) For(platform string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[platform]
	if !ok {
		b = New(r.cfg, r.clock)
		r.breakers[platform] = b
	}
	return b
}

// Snapshots returns a diagnostic view of every breaker the registry has
// created so far, keyed by platform name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
