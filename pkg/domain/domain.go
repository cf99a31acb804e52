// Package domain holds the entities the reconciliation core reads and
// writes. Persistence representation is a collaborator concern (see
// internal/repository); this package fixes the semantics.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionMethod records how an AffiliateReport reached the system.
type SubmissionMethod string

const (
	SubmissionAPI     SubmissionMethod = "API"
	SubmissionDiscord SubmissionMethod = "DISCORD"
)

// SuspicionFlag is a single data-quality rule hit, keyed by rule key on the
// owning AffiliateReport.
type SuspicionFlag struct {
	Key       string      `json:"key" db:"key"`
	Value     *float64    `json:"value,omitempty" db:"value"`
	Threshold *float64    `json:"threshold,omitempty" db:"threshold"`
	Severity  string      `json:"severity" db:"severity" validate:"oneof=LOW MEDIUM HIGH"`
	Message   string      `json:"message" db:"message"`
	Previous  *int64      `json:"previous,omitempty" db:"previous"`
	Current   *int64      `json:"current,omitempty" db:"current"`
}

// AffiliateReport is an immutable claim snapshot submitted by an affiliate.
type AffiliateReport struct {
	ID                 uuid.UUID                `db:"id" validate:"required"`
	PostID             uuid.UUID                `db:"post_id" validate:"required"`
	ClaimedViews       int64                    `db:"claimed_views" validate:"gte=0"`
	ClaimedClicks      int64                    `db:"claimed_clicks" validate:"gte=0"`
	ClaimedConversions int64                    `db:"claimed_conversions" validate:"gte=0"`
	SubmittedAt        time.Time                `db:"submitted_at"`
	SuspicionFlags     map[string]SuspicionFlag `db:"suspicion_flags"`
	SubmissionMethod   SubmissionMethod         `db:"submission_method" validate:"oneof=API DISCORD"`
	EvidenceProvided   bool                     `db:"-"`
}

// HasSuspicionFlags reports whether any DQ rule fired at submission time.
func (r *AffiliateReport) HasSuspicionFlags() bool {
	return len(r.SuspicionFlags) > 0
}

// Post is the social-media post a claim references.
type Post struct {
	ID           uuid.UUID `db:"id"`
	CampaignID   uuid.UUID `db:"campaign_id"`
	AffiliateID  uuid.UUID `db:"affiliate_id"`
	PlatformID   uuid.UUID `db:"platform_id"`
	URL          string    `db:"url"`
	IsReconciled bool      `db:"is_reconciled"`
}

// Affiliate is a user submitting claims under the affiliate role.
type Affiliate struct {
	ID                  uuid.UUID  `db:"id"`
	TrustScore           float64    `db:"trust_score"`
	TotalSubmissions     int64      `db:"total_submissions"`
	AccurateSubmissions  int64      `db:"accurate_submissions"`
	LastTrustUpdate      *time.Time `db:"last_trust_update"`
}

// Platform identifies the social network an adapter fetches from.
type Platform struct {
	ID       uuid.UUID `db:"id"`
	Name     string    `db:"name"`
	IsActive bool      `db:"is_active"`
}

// PlatformReport is a source-of-truth snapshot from a single successful fetch.
type PlatformReport struct {
	ID          uuid.UUID              `db:"id"`
	PostID      uuid.UUID              `db:"post_id"`
	PlatformID  uuid.UUID              `db:"platform_id"`
	Views       *int64                 `db:"views"`
	Clicks      *int64                 `db:"clicks"`
	Conversions *int64                 `db:"conversions"`
	RawData     map[string]interface{} `db:"raw_data"`
	FetchedAt   time.Time              `db:"fetched_at"`
}

// ReconciliationStatus is the stable wire identifier for a classification
// outcome. Values must never change spelling; they are persisted.
type ReconciliationStatus string

const (
	StatusMatched              ReconciliationStatus = "MATCHED"
	StatusDiscrepancyLow       ReconciliationStatus = "DISCREPANCY_LOW"
	StatusDiscrepancyMedium    ReconciliationStatus = "DISCREPANCY_MEDIUM"
	StatusDiscrepancyHigh      ReconciliationStatus = "DISCREPANCY_HIGH"
	StatusAffiliateOverclaimed ReconciliationStatus = "AFFILIATE_OVERCLAIMED"
	StatusMissingPlatformData  ReconciliationStatus = "MISSING_PLATFORM_DATA"
	StatusIncompletePlatformData ReconciliationStatus = "INCOMPLETE_PLATFORM_DATA"
	StatusUnverifiable         ReconciliationStatus = "UNVERIFIABLE"
	StatusSkippedSuspended     ReconciliationStatus = "SKIPPED_SUSPENDED"
)

// DiscrepancyLevel mirrors ReconciliationStatus severity where applicable.
type DiscrepancyLevel string

const (
	LevelLow      DiscrepancyLevel = "LOW"
	LevelMedium   DiscrepancyLevel = "MEDIUM"
	LevelHigh     DiscrepancyLevel = "HIGH"
	LevelCritical DiscrepancyLevel = "CRITICAL"
)

// TrustEvent is a classification outcome that mutates an affiliate's trust
// score.
type TrustEvent string

const (
	EventPerfectMatch        TrustEvent = "PERFECT_MATCH"
	EventMinorDiscrepancy    TrustEvent = "MINOR_DISCREPANCY"
	EventMediumDiscrepancy   TrustEvent = "MEDIUM_DISCREPANCY"
	EventHighDiscrepancy     TrustEvent = "HIGH_DISCREPANCY"
	EventOverclaim           TrustEvent = "OVERCLAIM"
	EventImpossibleSubmission TrustEvent = "IMPOSSIBLE_SUBMISSION"
	EventManualAdjust        TrustEvent = "MANUAL_ADJUST"
)

// ReconciliationLog is unique per AffiliateReport (I1).
type ReconciliationLog struct {
	ID                 uuid.UUID             `db:"id"`
	AffiliateReportID  uuid.UUID             `db:"affiliate_report_id"`
	Status             ReconciliationStatus  `db:"status"`
	DiscrepancyLevel   *DiscrepancyLevel     `db:"discrepancy_level"`
	ViewsDiscrepancy   int64                 `db:"views_discrepancy"`
	ClicksDiscrepancy  int64                 `db:"clicks_discrepancy"`
	ConversionsDiscrepancy int64             `db:"conversions_discrepancy"`
	ViewsDiffPct       *float64              `db:"views_diff_pct"`
	ClicksDiffPct      *float64              `db:"clicks_diff_pct"`
	ConversionsDiffPct *float64              `db:"conversions_diff_pct"`
	MaxDiscrepancyPct  *float64              `db:"max_discrepancy_pct"`
	ConfidenceRatio    float64               `db:"confidence_ratio"`
	MissingFields      []string              `db:"missing_fields"`
	AttemptCount       int                   `db:"attempt_count"`
	LastAttemptAt      *time.Time            `db:"last_attempt_at"`
	ScheduledRetryAt   *time.Time            `db:"scheduled_retry_at"`
	ElapsedHours       float64               `db:"elapsed_hours"`
	TrustDelta         *float64              `db:"trust_delta"`
	ErrorCode          *string               `db:"error_code"`
	ErrorMessage       *string               `db:"error_message"`
	RateLimited        bool                  `db:"rate_limited"`
	PlatformReportID   *uuid.UUID            `db:"platform_report_id"`
	// Version is an optimistic-lock counter, bumped on every
	// UpdateReconciliationLog write. It plays the role the SQLAlchemy
	// ORM's row-version heuristics played in the original service: two
	// concurrent attempts against the same log race to commit, and the
	// loser sees a stale-data conflict instead of silently clobbering
	// the winner's write.
	Version int `db:"version"`
}

// IsTerminal reports whether status is one after which no further retry can
// ever be scheduled by the classifier alone (the engine still decides
// scheduled_retry_at based on attempt/window policy).
func (s ReconciliationStatus) IsTerminal() bool {
	switch s {
	case StatusMatched, StatusAffiliateOverclaimed, StatusDiscrepancyHigh:
		return true
	default:
		return false
	}
}

// AlertType is the stable wire identifier for an Alert's kind.
type AlertType string

const (
	AlertHighDiscrepancy AlertType = "HIGH_DISCREPANCY"
	AlertMissingData     AlertType = "MISSING_DATA"
	AlertSuspiciousClaim AlertType = "SUSPICIOUS_CLAIM"
	AlertSystemError     AlertType = "SYSTEM_ERROR"
)

// AlertSeverity orders alerts for downstream paging/escalation.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertCategory buckets an alert by the kind of concern it raises.
type AlertCategory string

const (
	CategoryDataQuality  AlertCategory = "DATA_QUALITY"
	CategoryFraud        AlertCategory = "FRAUD"
	CategorySystemHealth AlertCategory = "SYSTEM_HEALTH"
)

// AlertStatus tracks an alert's lifecycle after creation.
type AlertStatus string

const (
	AlertOpen     AlertStatus = "OPEN"
	AlertResolved AlertStatus = "RESOLVED"
)

// Alert is at most one per ReconciliationLog (I5).
type Alert struct {
	ID                 uuid.UUID              `db:"id"`
	ReconciliationLogID uuid.UUID              `db:"reconciliation_log_id"`
	Type               AlertType               `db:"alert_type"`
	Severity           AlertSeverity           `db:"severity"`
	Category           AlertCategory           `db:"category"`
	Status             AlertStatus             `db:"status"`
	AffiliateID        uuid.UUID               `db:"affiliate_id"`
	PlatformID         uuid.UUID               `db:"platform_id"`
	Title              string                  `db:"title"`
	Message            string                  `db:"message"`
	ThresholdBreached  map[string]interface{}  `db:"threshold_breached"`
	CreatedAt          time.Time               `db:"created_at"`
}

// TrustBucket is the qualitative priority label derived from a trust score.
type TrustBucket string

const (
	BucketHighTrust TrustBucket = "high_trust"
	BucketNormal    TrustBucket = "normal"
	BucketLowTrust  TrustBucket = "low_trust"
	BucketCritical  TrustBucket = "critical"
)

// QueuePriority is the qualitative label attached to an enqueued job; it is
// translated to a numeric value by queue configuration.
type QueuePriority string

const (
	PriorityHigh   QueuePriority = "high"
	PriorityNormal QueuePriority = "normal"
	PriorityLow    QueuePriority = "low"
)
