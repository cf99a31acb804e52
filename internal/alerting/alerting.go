// Package alerting implements the rule-based alert creation step (spec
// §4.9), grounded in original_source/app/services/alerting.py. Alerts are
// created at most once per ReconciliationLog (I5) and escalate from HIGH to
// CRITICAL when a prior HIGH_DISCREPANCY alert exists for the same
// affiliate+platform within the configured repeat window.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// parseOrZero parses a UUID string, returning the zero UUID on failure
// rather than erroring: alert construction never fails on a malformed id,
// it just produces an alert with an empty reference for the caller's
// logging to flag.
func parseOrZero(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

// History is the narrow read-only collaborator the engine provides so
// alerting can check for a prior escalating alert without depending on the
// full Repository interface.
type History interface {
	RecentHighDiscrepancyAlert(ctx context.Context, affiliateID, platformID string, since time.Time) (*domain.Alert, error)
}

// Decide evaluates the three alert rules against a freshly-written
// ReconciliationLog and returns the Alert to persist, or nil if no rule
// fires. Decide itself keeps no state and runs on every attempt; at most
// one alert per log (I5) is enforced by Repository.UpsertAlert, which
// ignores an alert for a log that already has one.
func Decide(ctx context.Context, cfg *config.AlertingConfig, history History, log *domain.ReconciliationLog, affiliateID, platformID string, retryScheduled bool) (*domain.Alert, error) {
	switch {
	case log.Status == domain.StatusAffiliateOverclaimed:
		return overclaimAlert(log, affiliateID, platformID), nil

	case log.Status == domain.StatusDiscrepancyHigh:
		return highDiscrepancyAlert(ctx, cfg, history, log, affiliateID, platformID)

	case log.Status == domain.StatusMissingPlatformData && !retryScheduled:
		return missingDataAlert(log, affiliateID, platformID), nil

	default:
		return nil, nil
	}
}

func overclaimAlert(log *domain.ReconciliationLog, affiliateID, platformID string) *domain.Alert {
	severity := domain.SeverityHigh
	if log.DiscrepancyLevel != nil && *log.DiscrepancyLevel == domain.LevelCritical {
		severity = domain.SeverityCritical
	}
	return &domain.Alert{
		Type:                domain.AlertHighDiscrepancy,
		Severity:            severity,
		Category:            domain.CategoryFraud,
		Status:              domain.AlertOpen,
		AffiliateID:         parseOrZero(affiliateID),
		PlatformID:          parseOrZero(platformID),
		Title:               "Affiliate overclaim detected",
		Message:             fmt.Sprintf("Reconciliation log %s classified as AFFILIATE_OVERCLAIMED", log.ID),
		ReconciliationLogID: log.ID,
		ThresholdBreached: map[string]interface{}{
			"max_discrepancy_pct": log.MaxDiscrepancyPct,
		},
	}
}

func highDiscrepancyAlert(ctx context.Context, cfg *config.AlertingConfig, history History, log *domain.ReconciliationLog, affiliateID, platformID string) (*domain.Alert, error) {
	severity := domain.SeverityHigh

	if history != nil {
		since := time.Now().Add(-cfg.RepeatOverclaimWindow)
		prior, err := history.RecentHighDiscrepancyAlert(ctx, affiliateID, platformID, since)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			severity = domain.SeverityCritical
		}
	}

	return &domain.Alert{
		Type:                domain.AlertHighDiscrepancy,
		Severity:            severity,
		Category:            domain.CategoryDataQuality,
		Status:              domain.AlertOpen,
		AffiliateID:         parseOrZero(affiliateID),
		PlatformID:          parseOrZero(platformID),
		Title:               "High discrepancy between claimed and platform metrics",
		Message:             fmt.Sprintf("Reconciliation log %s classified as DISCREPANCY_HIGH", log.ID),
		ReconciliationLogID: log.ID,
		ThresholdBreached: map[string]interface{}{
			"max_discrepancy_pct": log.MaxDiscrepancyPct,
		},
	}, nil
}

func missingDataAlert(log *domain.ReconciliationLog, affiliateID, platformID string) *domain.Alert {
	return &domain.Alert{
		Type:                domain.AlertMissingData,
		Severity:            domain.SeverityMedium,
		Category:            domain.CategorySystemHealth,
		Status:              domain.AlertOpen,
		AffiliateID:         parseOrZero(affiliateID),
		PlatformID:          parseOrZero(platformID),
		Title:               "Platform data permanently unavailable",
		Message:             fmt.Sprintf("Reconciliation log %s exhausted retries with MISSING_PLATFORM_DATA", log.ID),
		ReconciliationLogID: log.ID,
	}
}
