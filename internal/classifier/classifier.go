// Package classifier implements the discrepancy classifier (spec §4.8), a
// pure function comparing an affiliate's claimed metrics against a
// platform's reported metrics, grounded in
// original_source/app/services/discrepancy_classifier.py.
package classifier

import (
	"github.com/P4R1H/affiliate-platform/internal/config"
	sharedmath "github.com/P4R1H/affiliate-platform/internal/shared/math"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Input is everything the classifier needs to produce a Result; it never
// reads from a database or clock itself (elapsed hours is precomputed by
// the caller so the function stays pure and trivially testable).
type Input struct {
	ClaimedViews       int64
	ClaimedClicks      int64
	ClaimedConversions int64

	PlatformViews       *int64
	PlatformClicks      *int64
	PlatformConversions *int64

	ElapsedHours float64
}

// Result is the classifier's full output: status, discrepancy magnitude per
// metric, missing fields, and the confidence ratio (I3: provided/3).
type Result struct {
	Status             domain.ReconciliationStatus
	DiscrepancyLevel   *domain.DiscrepancyLevel
	ViewsDiscrepancy   int64
	ClicksDiscrepancy  int64
	ConversionsDiscrepancy int64
	ViewsDiffPct       *float64
	ClicksDiffPct      *float64
	ConversionsDiffPct *float64
	MaxDiscrepancyPct  *float64
	MissingFields      []string
	ConfidenceRatio    float64
	TrustEvent         domain.TrustEvent
}

// Classify compares claimed metrics against platform-reported metrics and
// produces a Result. Overclaim precedence: an overclaim verdict is checked
// before tier (LOW/MEDIUM/HIGH) classification — a claim that is both
// "too high" and "within the HIGH tier bucket" is always reported as an
// overclaim, never as DISCREPANCY_HIGH (see spec §4.8 precedence rule).
func Classify(cfg *config.ReconciliationConfig, in Input) Result {
	missing := missingFields(in)
	provided := 3 - len(missing)
	confidence := float64(provided) / 3.0

	if len(missing) == 3 {
		return Result{
			Status:          domain.StatusMissingPlatformData,
			MissingFields:   missing,
			ConfidenceRatio: confidence,
		}
	}
	if len(missing) > 0 {
		return Result{
			Status:          domain.StatusIncompletePlatformData,
			MissingFields:   missing,
			ConfidenceRatio: confidence,
		}
	}

	viewsAllowed := sharedmath.ApplyGrowthAllowance(*in.PlatformViews, in.ElapsedHours, cfg.GrowthPerHourPct, cfg.GrowthCapHours)
	clicksAllowed := sharedmath.ApplyGrowthAllowance(*in.PlatformClicks, in.ElapsedHours, cfg.GrowthPerHourPct, cfg.GrowthCapHours)
	conversionsAllowed := sharedmath.ApplyGrowthAllowance(*in.PlatformConversions, in.ElapsedHours, cfg.GrowthPerHourPct, cfg.GrowthCapHours)

	viewsPct := sharedmath.PctDiff(in.ClaimedViews, viewsAllowed)
	clicksPct := sharedmath.PctDiff(in.ClaimedClicks, clicksAllowed)
	conversionsPct := sharedmath.PctDiff(in.ClaimedConversions, conversionsAllowed)

	maxPct := viewsPct
	if clicksPct > maxPct {
		maxPct = clicksPct
	}
	if conversionsPct > maxPct {
		maxPct = conversionsPct
	}

	result := Result{
		ViewsDiscrepancy:       in.ClaimedViews - viewsAllowed,
		ClicksDiscrepancy:      in.ClaimedClicks - clicksAllowed,
		ConversionsDiscrepancy: in.ClaimedConversions - conversionsAllowed,
		ViewsDiffPct:           &viewsPct,
		ClicksDiffPct:          &clicksPct,
		ConversionsDiffPct:     &conversionsPct,
		MaxDiscrepancyPct:      &maxPct,
		ConfidenceRatio:        confidence,
	}

	overclaimCondition := (result.ViewsDiscrepancy > 0 && viewsPct >= cfg.OverclaimThresholdPct) ||
		(result.ClicksDiscrepancy > 0 && clicksPct >= cfg.OverclaimThresholdPct) ||
		(result.ConversionsDiscrepancy > 0 && conversionsPct >= cfg.OverclaimThresholdPct)
	criticalCondition := (result.ViewsDiscrepancy > 0 && viewsPct >= cfg.OverclaimCriticalPct) ||
		(result.ClicksDiscrepancy > 0 && clicksPct >= cfg.OverclaimCriticalPct) ||
		(result.ConversionsDiscrepancy > 0 && conversionsPct >= cfg.OverclaimCriticalPct)

	if overclaimCondition {
		result.Status = domain.StatusAffiliateOverclaimed
		level := domain.LevelHigh
		if criticalCondition {
			level = domain.LevelCritical
		}
		result.DiscrepancyLevel = &level
		result.TrustEvent = domain.EventOverclaim
		return result
	}

	switch {
	case maxPct <= cfg.BaseTolerancePct:
		result.Status = domain.StatusMatched
		result.TrustEvent = domain.EventPerfectMatch
	case maxPct <= cfg.DiscrepancyTiers.LowMax:
		result.Status = domain.StatusDiscrepancyLow
		level := domain.LevelLow
		result.DiscrepancyLevel = &level
		result.TrustEvent = domain.EventMinorDiscrepancy
	case maxPct <= cfg.DiscrepancyTiers.MediumMax:
		result.Status = domain.StatusDiscrepancyMedium
		level := domain.LevelMedium
		result.DiscrepancyLevel = &level
		result.TrustEvent = domain.EventMediumDiscrepancy
	default:
		result.Status = domain.StatusDiscrepancyHigh
		level := domain.LevelHigh
		result.DiscrepancyLevel = &level
		result.TrustEvent = domain.EventHighDiscrepancy
	}

	return result
}

func missingFields(in Input) []string {
	var missing []string
	if in.PlatformViews == nil {
		missing = append(missing, "views")
	}
	if in.PlatformClicks == nil {
		missing = append(missing, "clicks")
	}
	if in.PlatformConversions == nil {
		missing = append(missing, "conversions")
	}
	return missing
}
