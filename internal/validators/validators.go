// Package validators implements the submission-time data-quality rules
// (spec §4.10), grounded in
// original_source/app/services/data_quality_validators.py: a set of pure
// rule functions that flag a freshly-submitted AffiliateReport as suspicious
// before any platform fetch happens, feeding queue-priority escalation.
package validators

import (
	"fmt"
	"math"

	"github.com/P4R1H/affiliate-platform/internal/config"
	sharedmath "github.com/P4R1H/affiliate-platform/internal/shared/math"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Severity levels for a suspicion flag, ordered low to high.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// PriorPost is the minimal history the monotonicity/spike rules need: the
// metrics from the affiliate's previous submission on the same post.
type PriorPost struct {
	Views       int64
	Clicks      int64
	Conversions int64
}

// Submission is the claim under evaluation.
type Submission struct {
	ClaimedViews       int64
	ClaimedClicks      int64
	ClaimedConversions int64
	EvidenceProvided   bool
	Prior              *PriorPost // nil if this is the affiliate's first submission for the post
}

// Evaluate runs every DQ rule against submission and returns the flags that
// fired, keyed by rule key (matches original_source's
// evaluate_submission(...) -> Dict[str, dict] shape).
func Evaluate(cfg *config.DataQualityConfig, sub Submission) map[string]domain.SuspicionFlag {
	flags := make(map[string]domain.SuspicionFlag)

	if f := ruleHighCTR(cfg, sub); f != nil {
		flags["high_ctr"] = *f
	}
	if f := ruleHighCVR(cfg, sub); f != nil {
		flags["high_cvr"] = *f
	}
	if f := ruleMetricOrder(sub); f != nil {
		flags["metric_order"] = *f
	}
	if f := ruleEvidenceRequired(cfg, sub); f != nil {
		flags["evidence_required"] = *f
	}
	if sub.Prior != nil {
		for key, f := range ruleNonMonotonic(cfg, sub) {
			flags[key] = f
		}
		for key, f := range ruleSpike(cfg, sub) {
			flags[key] = f
		}
	}

	return flags
}

// severityFromExcess buckets how far a value exceeds a threshold:
// >= 3x threshold -> HIGH, >= 1.5x -> MEDIUM, else LOW.
func severityFromExcess(value, threshold float64) string {
	if threshold <= 0 {
		return SeverityHigh
	}
	ratio := value / threshold
	switch {
	case ratio >= 3.0:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func ruleHighCTR(cfg *config.DataQualityConfig, sub Submission) *domain.SuspicionFlag {
	if sub.ClaimedViews < cfg.MinViewsForCTR {
		return nil
	}
	ctr := sharedmath.SafeDiv(float64(sub.ClaimedClicks), float64(sub.ClaimedViews))
	if ctr <= cfg.MaxCTR {
		return nil
	}
	threshold := cfg.MaxCTR
	return &domain.SuspicionFlag{
		Key:       "high_ctr",
		Value:     &ctr,
		Threshold: &threshold,
		Severity:  severityFromExcess(ctr, cfg.MaxCTR),
		Message:   fmt.Sprintf("click-through rate %.3f exceeds maximum plausible %.3f", ctr, cfg.MaxCTR),
	}
}

func ruleHighCVR(cfg *config.DataQualityConfig, sub Submission) *domain.SuspicionFlag {
	if sub.ClaimedClicks < cfg.MinClicksForCVR {
		return nil
	}
	cvr := sharedmath.SafeDiv(float64(sub.ClaimedConversions), float64(sub.ClaimedClicks))
	if cvr <= cfg.MaxCVR {
		return nil
	}
	threshold := cfg.MaxCVR
	return &domain.SuspicionFlag{
		Key:       "high_cvr",
		Value:     &cvr,
		Threshold: &threshold,
		Severity:  severityFromExcess(cvr, cfg.MaxCVR),
		Message:   fmt.Sprintf("conversion rate %.3f exceeds maximum plausible %.3f", cvr, cfg.MaxCVR),
	}
}

// ruleMetricOrder enforces the natural funnel: views >= clicks >=
// conversions. Any violation is HIGH severity since it indicates either a
// data-entry mistake or fabricated numbers.
func ruleMetricOrder(sub Submission) *domain.SuspicionFlag {
	if sub.ClaimedViews >= sub.ClaimedClicks && sub.ClaimedClicks >= sub.ClaimedConversions {
		return nil
	}
	return &domain.SuspicionFlag{
		Key:      "metric_order",
		Severity: SeverityHigh,
		Message:  "claimed metrics violate views >= clicks >= conversions ordering",
	}
}

func ruleEvidenceRequired(cfg *config.DataQualityConfig, sub Submission) *domain.SuspicionFlag {
	if sub.ClaimedViews < cfg.EvidenceRequiredViews || sub.EvidenceProvided {
		return nil
	}
	threshold := float64(cfg.EvidenceRequiredViews)
	value := float64(sub.ClaimedViews)
	return &domain.SuspicionFlag{
		Key:       "evidence_required",
		Value:     &value,
		Threshold: &threshold,
		Severity:  SeverityMedium,
		Message:   fmt.Sprintf("claim of %d views exceeds evidence-required threshold %d with no evidence attached", sub.ClaimedViews, cfg.EvidenceRequiredViews),
	}
}

// ruleNonMonotonic flags any metric that decreased from the affiliate's
// prior submission on the same post by more than the configured tolerance,
// since engagement metrics should only ever grow over time.
func ruleNonMonotonic(cfg *config.DataQualityConfig, sub Submission) map[string]domain.SuspicionFlag {
	out := make(map[string]domain.SuspicionFlag)
	check := func(key string, newVal, oldVal int64) {
		tolerance := int64(float64(oldVal) * cfg.MonotonicTolerancePct)
		if newVal+tolerance < oldVal {
			prev, cur := oldVal, newVal
			out["non_monotonic_"+key] = domain.SuspicionFlag{
				Key:      "non_monotonic_" + key,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s decreased from %d to %d, exceeding monotonic tolerance", key, oldVal, newVal),
				Previous: &prev,
				Current:  &cur,
			}
		}
	}
	check("views", sub.ClaimedViews, sub.Prior.Views)
	check("clicks", sub.ClaimedClicks, sub.Prior.Clicks)
	check("conversions", sub.ClaimedConversions, sub.Prior.Conversions)
	return out
}

// ruleSpike flags any metric whose growth multiple since the prior
// submission exceeds MaxGrowthMultiple. A prior value of zero is skipped
// (growth is undefined/infinite and uninformative).
func ruleSpike(cfg *config.DataQualityConfig, sub Submission) map[string]domain.SuspicionFlag {
	out := make(map[string]domain.SuspicionFlag)
	check := func(key string, newVal, oldVal int64) {
		if oldVal == 0 {
			return
		}
		growth := float64(newVal) / float64(oldVal)
		if math.IsInf(growth, 0) || growth <= cfg.MaxGrowthMultiple {
			return
		}
		threshold := cfg.MaxGrowthMultiple
		out["spike_"+key] = domain.SuspicionFlag{
			Key:       "spike_" + key,
			Value:     &growth,
			Threshold: &threshold,
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("%s grew %.1fx since last submission, exceeding max plausible growth %.1fx", key, growth, cfg.MaxGrowthMultiple),
		}
	}
	check("views", sub.ClaimedViews, sub.Prior.Views)
	check("clicks", sub.ClaimedClicks, sub.Prior.Clicks)
	check("conversions", sub.ClaimedConversions, sub.Prior.Conversions)
	return out
}

// HasHighSeverity reports whether any flag in the set is HIGH severity.
func HasHighSeverity(flags map[string]domain.SuspicionFlag) bool {
	for _, f := range flags {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
