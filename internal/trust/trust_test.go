package trust

import (
	"math"
	"testing"

	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

func testScorer() *Scorer {
	return NewScorer(DefaultEventDeltas(), DefaultBounds(), DefaultBucketThresholds())
}

func TestApplyPerfectMatchIncrementsScore(t *testing.T) {
	s := testScorer()
	newScore, delta := s.Apply(0.50, domain.EventPerfectMatch)
	if math.Abs(newScore-0.51) > 1e-9 {
		t.Errorf("expected 0.51, got %v", newScore)
	}
	if math.Abs(delta-0.01) > 1e-9 {
		t.Errorf("expected effective delta 0.01, got %v", delta)
	}
}

func TestApplyOverclaimDecrementsScore(t *testing.T) {
	s := testScorer()
	newScore, delta := s.Apply(0.50, domain.EventOverclaim)
	if math.Abs(newScore-0.40) > 1e-9 {
		t.Errorf("expected 0.40, got %v", newScore)
	}
	if math.Abs(delta-(-0.10)) > 1e-9 {
		t.Errorf("expected effective delta -0.10, got %v", delta)
	}
}

func TestApplyClampsAtUpperBound(t *testing.T) {
	s := testScorer()
	newScore, delta := s.Apply(0.995, domain.EventPerfectMatch)
	if newScore != 1.0 {
		t.Errorf("expected clamp to 1.0, got %v", newScore)
	}
	if math.Abs(delta-0.005) > 1e-9 {
		t.Errorf("expected effective delta 0.005 (truncated by clamp), got %v", delta)
	}
}

func TestApplyClampsAtLowerBound(t *testing.T) {
	s := testScorer()
	newScore, delta := s.Apply(0.05, domain.EventImpossibleSubmission)
	if newScore != 0.0 {
		t.Errorf("expected clamp to 0.0, got %v", newScore)
	}
	if math.Abs(delta-(-0.05)) > 1e-9 {
		t.Errorf("expected effective delta -0.05 (truncated by clamp), got %v", delta)
	}
}

func TestBucketForBoundaries(t *testing.T) {
	s := testScorer()
	cases := []struct {
		score    float64
		expected domain.TrustBucket
	}{
		{1.0, domain.BucketHighTrust},
		{0.75, domain.BucketHighTrust},
		{0.74, domain.BucketNormal},
		{0.50, domain.BucketNormal},
		{0.49, domain.BucketLowTrust},
		{0.25, domain.BucketLowTrust},
		{0.24, domain.BucketCritical},
		{0.0, domain.BucketCritical},
	}
	for _, tc := range cases {
		if got := s.BucketFor(tc.score); got != tc.expected {
			t.Errorf("BucketFor(%v) = %v, want %v", tc.score, got, tc.expected)
		}
	}
}

func TestPriorityForBucket(t *testing.T) {
	cases := []struct {
		bucket   domain.TrustBucket
		expected domain.QueuePriority
	}{
		{domain.BucketCritical, domain.PriorityHigh},
		{domain.BucketLowTrust, domain.PriorityHigh},
		{domain.BucketNormal, domain.PriorityNormal},
		{domain.BucketHighTrust, domain.PriorityLow},
	}
	for _, tc := range cases {
		if got := PriorityFor(tc.bucket, false); got != tc.expected {
			t.Errorf("PriorityFor(%v, false) = %v, want %v", tc.bucket, got, tc.expected)
		}
	}
}

func TestPriorityForEscalatesOnSuspicionFlagsUnlessAlreadyHigh(t *testing.T) {
	cases := []struct {
		bucket   domain.TrustBucket
		expected domain.QueuePriority
	}{
		{domain.BucketHighTrust, domain.PriorityHigh},
		{domain.BucketNormal, domain.PriorityHigh},
		{domain.BucketLowTrust, domain.PriorityHigh},
		{domain.BucketCritical, domain.PriorityHigh},
	}
	for _, tc := range cases {
		if got := PriorityFor(tc.bucket, true); got != tc.expected {
			t.Errorf("PriorityFor(%v, true) = %v, want %v", tc.bucket, got, tc.expected)
		}
	}
}
