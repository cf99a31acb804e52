// Package trust implements the affiliate trust-score state machine (spec
// §4.5), grounded in original_source/app/services/trust_scoring.py: a
// bounded additive update per classification outcome, plus the priority
// bucket used to escalate queue priority for untrustworthy affiliates.
package trust

import "github.com/P4R1H/affiliate-platform/pkg/domain"

// DefaultScore is the initial trust score assigned to a newly observed
// affiliate (Open Question decision, SPEC_FULL.md §3: 0.50).
const DefaultScore = 0.50

// Bounds clamps the trust score range.
type Bounds struct {
	Min float64
	Max float64
}

// BucketThresholds separates trust scores into the four priority buckets.
type BucketThresholds struct {
	HighTrust         float64 // score >= this -> high_trust
	Normal            float64 // score >= this -> normal
	LowTrust          float64 // score >= this -> low_trust; below -> critical
}

// EventDeltas maps each TrustEvent to its raw (pre-clamp) score delta.
type EventDeltas map[domain.TrustEvent]float64

// DefaultEventDeltas returns the spec §4.1 trust deltas.
func DefaultEventDeltas() EventDeltas {
	return EventDeltas{
		domain.EventPerfectMatch:         0.01,
		domain.EventMinorDiscrepancy:     -0.01,
		domain.EventMediumDiscrepancy:    -0.03,
		domain.EventHighDiscrepancy:      -0.05,
		domain.EventOverclaim:            -0.10,
		domain.EventImpossibleSubmission: -0.15,
		domain.EventManualAdjust:         0.0,
	}
}

// DefaultBounds returns the spec's [0, 1] trust score range.
func DefaultBounds() Bounds {
	return Bounds{Min: 0.0, Max: 1.0}
}

// DefaultBucketThresholds returns the spec §4.1 bucket boundaries.
func DefaultBucketThresholds() BucketThresholds {
	return BucketThresholds{HighTrust: 0.75, Normal: 0.50, LowTrust: 0.25}
}

// Scorer applies trust events to a current score under a fixed policy.
type Scorer struct {
	deltas     EventDeltas
	bounds     Bounds
	thresholds BucketThresholds
}

// NewScorer builds a Scorer from explicit policy values (injected from
// config rather than hardcoded, so operators can retune without a
// redeploy).
func NewScorer(deltas EventDeltas, bounds Bounds, thresholds BucketThresholds) *Scorer {
	return &Scorer{deltas: deltas, bounds: bounds, thresholds: thresholds}
}

// Apply computes the new trust score for current after event, clamped to
// the configured bounds, and returns the effective delta actually applied
// (which may differ from the raw event delta if clamping truncated it).
func (s *Scorer) Apply(current float64, event domain.TrustEvent) (newScore float64, effectiveDelta float64) {
	raw := s.deltas[event]
	unclamped := current + raw
	clamped := unclamped
	if clamped < s.bounds.Min {
		clamped = s.bounds.Min
	}
	if clamped > s.bounds.Max {
		clamped = s.bounds.Max
	}
	return clamped, clamped - current
}

// BucketFor returns the qualitative priority bucket for a trust score, used
// by the queue to escalate priority for low-trust affiliates (I6).
func (s *Scorer) BucketFor(score float64) domain.TrustBucket {
	switch {
	case score >= s.thresholds.HighTrust:
		return domain.BucketHighTrust
	case score >= s.thresholds.Normal:
		return domain.BucketNormal
	case score >= s.thresholds.LowTrust:
		return domain.BucketLowTrust
	default:
		return domain.BucketCritical
	}
}

// PriorityFor derives the queue priority label from a trust bucket and
// whether the submission has any suspicion flags (spec §4.7): critical and
// low_trust buckets get "high" priority, normal stays "normal", high_trust
// gets "low" - and any suspicion flag escalates a non-"high" result to
// "high" regardless of bucket.
func PriorityFor(bucket domain.TrustBucket, hasSuspicionFlags bool) domain.QueuePriority {
	var priority domain.QueuePriority
	switch bucket {
	case domain.BucketCritical, domain.BucketLowTrust:
		priority = domain.PriorityHigh
	case domain.BucketNormal:
		priority = domain.PriorityNormal
	default:
		priority = domain.PriorityLow
	}
	if hasSuspicionFlags && priority != domain.PriorityHigh {
		priority = domain.PriorityHigh
	}
	return priority
}
