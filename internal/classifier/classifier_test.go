package classifier

import (
	"testing"

	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

func testConfig() *config.ReconciliationConfig {
	return &config.ReconciliationConfig{
		BaseTolerancePct:      0.05,
		DiscrepancyTiers:      config.DiscrepancyTiers{LowMax: 0.10, MediumMax: 0.20},
		OverclaimThresholdPct: 0.20,
		OverclaimCriticalPct:  0.50,
		GrowthPerHourPct:      0.10,
		GrowthCapHours:        24,
	}
}

func ptr(v int64) *int64 { return &v }

func TestClassifyPerfectMatch(t *testing.T) {
	in := Input{
		ClaimedViews: 1000, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusMatched {
		t.Errorf("expected MATCHED, got %v", result.Status)
	}
	if result.TrustEvent != domain.EventPerfectMatch {
		t.Errorf("expected PERFECT_MATCH event, got %v", result.TrustEvent)
	}
	if result.ConfidenceRatio != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", result.ConfidenceRatio)
	}
}

func TestClassifyMissingAllFields(t *testing.T) {
	in := Input{ClaimedViews: 1000, ElapsedHours: 0}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusMissingPlatformData {
		t.Errorf("expected MISSING_PLATFORM_DATA, got %v", result.Status)
	}
	if result.ConfidenceRatio != 0.0 {
		t.Errorf("expected confidence 0.0, got %v", result.ConfidenceRatio)
	}
	if len(result.MissingFields) != 3 {
		t.Errorf("expected all 3 fields missing, got %v", result.MissingFields)
	}
}

func TestClassifyIncompletePartialFields(t *testing.T) {
	in := Input{
		ClaimedViews: 1000, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusIncompletePlatformData {
		t.Errorf("expected INCOMPLETE_PLATFORM_DATA, got %v", result.Status)
	}
	if result.ConfidenceRatio < 0.66 || result.ConfidenceRatio > 0.67 {
		t.Errorf("expected confidence ~0.667, got %v", result.ConfidenceRatio)
	}
}

func TestClassifyLowDiscrepancy(t *testing.T) {
	in := Input{
		ClaimedViews: 1080, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusDiscrepancyLow {
		t.Errorf("expected DISCREPANCY_LOW, got %v", result.Status)
	}
	if *result.DiscrepancyLevel != domain.LevelLow {
		t.Errorf("expected LOW level, got %v", *result.DiscrepancyLevel)
	}
}

func TestClassifyHighDiscrepancyOnUnderclaim(t *testing.T) {
	// Affiliate UNDER-claims by 30%: discrepancy tier is HIGH, but since
	// claimed < allowed it can never be an overclaim.
	in := Input{
		ClaimedViews: 700, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusDiscrepancyHigh {
		t.Errorf("expected DISCREPANCY_HIGH, got %v", result.Status)
	}
	if result.TrustEvent != domain.EventHighDiscrepancy {
		t.Errorf("expected HIGH_DISCREPANCY event, got %v", result.TrustEvent)
	}
}

func TestClassifyOverclaimTakesPrecedenceOverTier(t *testing.T) {
	// Affiliate claims 30% more views than platform reports - this would
	// land in the HIGH tier bucket by pct_diff alone, but since it's an
	// overclaim above the threshold, overclaim status wins.
	in := Input{
		ClaimedViews: 1300, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusAffiliateOverclaimed {
		t.Errorf("expected AFFILIATE_OVERCLAIMED, got %v", result.Status)
	}
	if result.TrustEvent != domain.EventOverclaim {
		t.Errorf("expected OVERCLAIM event, got %v", result.TrustEvent)
	}
	if *result.DiscrepancyLevel != domain.LevelHigh {
		t.Errorf("expected HIGH level for sub-critical overclaim, got %v", *result.DiscrepancyLevel)
	}
}

func TestClassifyCriticalOverclaim(t *testing.T) {
	in := Input{
		ClaimedViews: 1600, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusAffiliateOverclaimed {
		t.Errorf("expected AFFILIATE_OVERCLAIMED, got %v", result.Status)
	}
	if *result.DiscrepancyLevel != domain.LevelCritical {
		t.Errorf("expected CRITICAL level, got %v", *result.DiscrepancyLevel)
	}
}

func TestClassifyMixedSignDiscrepancyDoesNotBorrowAnotherMetricsOverclaim(t *testing.T) {
	// Views are under-claimed by 90% (no overclaim possible there). Clicks
	// are over-claimed by only 10% - above zero but below the 20% overclaim
	// threshold. Conversions match exactly. Per-metric gating must fall
	// through to DISCREPANCY_HIGH on the views tier, never borrowing the
	// views metric's large diff_pct to pass the clicks overclaim check.
	in := Input{
		ClaimedViews: 10, ClaimedClicks: 11, ClaimedConversions: 10,
		PlatformViews: ptr(100), PlatformClicks: ptr(10), PlatformConversions: ptr(10),
		ElapsedHours: 0,
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusDiscrepancyHigh {
		t.Errorf("expected DISCREPANCY_HIGH, got %v", result.Status)
	}
	if result.TrustEvent != domain.EventHighDiscrepancy {
		t.Errorf("expected HIGH_DISCREPANCY event, got %v", result.TrustEvent)
	}
}

func TestClassifyGrowthAllowanceAvoidsFalseOverclaim(t *testing.T) {
	// Claimed views exceed the raw platform snapshot but fall within the
	// growth-allowed window given elapsed time since submission.
	in := Input{
		ClaimedViews: 1050, ClaimedClicks: 100, ClaimedConversions: 10,
		PlatformViews: ptr(1000), PlatformClicks: ptr(100), PlatformConversions: ptr(10),
		ElapsedHours: 1, // allowance: 1000 * 1.10 = 1100
	}
	result := Classify(testConfig(), in)
	if result.Status != domain.StatusMatched {
		t.Errorf("expected MATCHED within growth allowance, got %v", result.Status)
	}
}
