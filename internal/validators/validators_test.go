package validators

import (
	"testing"

	"github.com/P4R1H/affiliate-platform/internal/config"
)

func testDQConfig() *config.DataQualityConfig {
	return &config.DataQualityConfig{
		MaxCTR: 0.35, MaxCVR: 0.60, MaxGrowthMultiple: 5.0,
		EvidenceRequiredViews: 50000, MonotonicTolerancePct: 0.01,
		MinViewsForCTR: 100, MinClicksForCVR: 20,
	}
}

func TestEvaluateCleanSubmissionHasNoFlags(t *testing.T) {
	sub := Submission{ClaimedViews: 1000, ClaimedClicks: 100, ClaimedConversions: 10}
	flags := Evaluate(testDQConfig(), sub)
	if len(flags) != 0 {
		t.Errorf("expected no flags, got %v", flags)
	}
}

func TestEvaluateFlagsHighCTR(t *testing.T) {
	sub := Submission{ClaimedViews: 1000, ClaimedClicks: 600, ClaimedConversions: 10}
	flags := Evaluate(testDQConfig(), sub)
	f, ok := flags["high_ctr"]
	if !ok {
		t.Fatal("expected high_ctr flag")
	}
	if f.Severity != SeverityMedium {
		t.Errorf("expected MEDIUM severity for 0.6 CTR vs 0.35 max (ratio ~1.71x), got %v", f.Severity)
	}
}

func TestEvaluateSkipsCTRBelowMinViews(t *testing.T) {
	sub := Submission{ClaimedViews: 50, ClaimedClicks: 40, ClaimedConversions: 1}
	flags := Evaluate(testDQConfig(), sub)
	if _, ok := flags["high_ctr"]; ok {
		t.Error("expected high_ctr check skipped below min_views_for_ctr")
	}
}

func TestEvaluateFlagsMetricOrderViolation(t *testing.T) {
	sub := Submission{ClaimedViews: 100, ClaimedClicks: 150, ClaimedConversions: 10}
	flags := Evaluate(testDQConfig(), sub)
	f, ok := flags["metric_order"]
	if !ok {
		t.Fatal("expected metric_order flag")
	}
	if f.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %v", f.Severity)
	}
}

func TestEvaluateFlagsEvidenceRequired(t *testing.T) {
	sub := Submission{ClaimedViews: 60000, ClaimedClicks: 1000, ClaimedConversions: 100, EvidenceProvided: false}
	flags := Evaluate(testDQConfig(), sub)
	if _, ok := flags["evidence_required"]; !ok {
		t.Fatal("expected evidence_required flag")
	}

	sub.EvidenceProvided = true
	flags = Evaluate(testDQConfig(), sub)
	if _, ok := flags["evidence_required"]; ok {
		t.Error("expected no evidence_required flag when evidence provided")
	}
}

func TestEvaluateFlagsNonMonotonicDecrease(t *testing.T) {
	sub := Submission{
		ClaimedViews: 900, ClaimedClicks: 90, ClaimedConversions: 9,
		Prior: &PriorPost{Views: 1000, Clicks: 100, Conversions: 10},
	}
	flags := Evaluate(testDQConfig(), sub)
	if _, ok := flags["non_monotonic_views"]; !ok {
		t.Fatal("expected non_monotonic_views flag")
	}
}

func TestEvaluateToleratesSmallDecrease(t *testing.T) {
	sub := Submission{
		ClaimedViews: 995, ClaimedClicks: 100, ClaimedConversions: 10,
		Prior: &PriorPost{Views: 1000, Clicks: 100, Conversions: 10},
	}
	flags := Evaluate(testDQConfig(), sub)
	if _, ok := flags["non_monotonic_views"]; ok {
		t.Error("expected no flag for decrease within monotonic tolerance")
	}
}

func TestEvaluateFlagsSpike(t *testing.T) {
	sub := Submission{
		ClaimedViews: 10000, ClaimedClicks: 100, ClaimedConversions: 10,
		Prior: &PriorPost{Views: 1000, Clicks: 100, Conversions: 10},
	}
	flags := Evaluate(testDQConfig(), sub)
	f, ok := flags["spike_views"]
	if !ok {
		t.Fatal("expected spike_views flag")
	}
	if f.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %v", f.Severity)
	}
}

func TestEvaluateSkipsSpikeWhenPriorZero(t *testing.T) {
	sub := Submission{
		ClaimedViews: 10000, ClaimedClicks: 100, ClaimedConversions: 10,
		Prior: &PriorPost{Views: 0, Clicks: 0, Conversions: 0},
	}
	flags := Evaluate(testDQConfig(), sub)
	if _, ok := flags["spike_views"]; ok {
		t.Error("expected no spike flag when prior value is zero")
	}
}

func TestHasHighSeverity(t *testing.T) {
	sub := Submission{ClaimedViews: 100, ClaimedClicks: 150, ClaimedConversions: 10}
	flags := Evaluate(testDQConfig(), sub)
	if !HasHighSeverity(flags) {
		t.Error("expected HasHighSeverity true for metric_order violation")
	}

	clean := Evaluate(testDQConfig(), Submission{ClaimedViews: 1000, ClaimedClicks: 100, ClaimedConversions: 10})
	if HasHighSeverity(clean) {
		t.Error("expected HasHighSeverity false for clean submission")
	}
}
