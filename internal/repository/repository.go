// Package repository defines the persistence contract (spec §6) the
// reconciliation engine is built against. Concrete implementations live in
// internal/repository/memory (test double) and internal/repository/postgres
// (production, pgx/sqlx-backed).
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// ReportBundle is an AffiliateReport loaded together with the collaborators
// the engine needs on every attempt: its Post, the Post's Platform, and the
// owning Affiliate.
type ReportBundle struct {
	Report    *domain.AffiliateReport
	Post      *domain.Post
	Platform  *domain.Platform
	Affiliate *domain.Affiliate
}

// Repository is the persistence boundary consumed by internal/engine. Every
// method that mutates state must be safe to call concurrently for distinct
// report IDs; callers serialize per-report access via EnsureReconciliationLog's
// idempotency guarantee (I1) rather than relying on external locking.
type Repository interface {
	// LoadAffiliateReport returns the report and its nested Post, Platform
	// and Affiliate. Returns a NotFound AppError (see internal/shared/errors)
	// if no report with this id exists.
	LoadAffiliateReport(ctx context.Context, id uuid.UUID) (*ReportBundle, error)

	// EnsureReconciliationLog returns the existing log for reportID, or
	// creates a placeholder (status=MISSING_PLATFORM_DATA, attempt_count=0)
	// and returns it. Concurrent callers racing to create the first log for
	// the same report must converge on the same row (I1).
	EnsureReconciliationLog(ctx context.Context, reportID uuid.UUID) (*domain.ReconciliationLog, error)

	// InsertPlatformReport persists a new source-of-truth snapshot and
	// returns its generated id.
	InsertPlatformReport(ctx context.Context, report *domain.PlatformReport) (uuid.UUID, error)

	// UpdateReconciliationLog writes every mutable field on log. The caller
	// has already merged classification output into the struct. The write
	// is gated on log.Version: if another attempt committed since this
	// log was loaded, the call returns a StaleData AppError instead of
	// silently overwriting it, and leaves log.Version unchanged.
	UpdateReconciliationLog(ctx context.Context, log *domain.ReconciliationLog) error

	// UpsertAlert persists alert. If an alert already exists for
	// alert.ReconciliationLogID (I5) the call is a no-op and returns nil.
	UpsertAlert(ctx context.Context, alert *domain.Alert) error

	// ApplyTrustUpdate writes the affiliate's new trust score and
	// last-update timestamp, incrementing accurate_submissions when
	// incrementAccurate is true. Every call also increments
	// total_submissions by one.
	ApplyTrustUpdate(ctx context.Context, affiliateID uuid.UUID, newScore float64, lastUpdate time.Time, incrementAccurate bool) error

	// SetPostReconciled flips a Post's is_reconciled flag (I4).
	SetPostReconciled(ctx context.Context, postID uuid.UUID, reconciled bool) error

	// RecentHighDiscrepancyAlert satisfies internal/alerting.History: the
	// most recent HIGH_DISCREPANCY alert for (affiliateID, platformID)
	// created at or after since, or nil if none exists.
	RecentHighDiscrepancyAlert(ctx context.Context, affiliateID, platformID string, since time.Time) (*domain.Alert, error)

	// PriorSubmission returns the affiliate's previous AffiliateReport for
	// the same post (the immediately-preceding one by submitted_at), or nil
	// if this is the first submission, for internal/validators' monotonic
	// and spike rules.
	PriorSubmission(ctx context.Context, postID uuid.UUID, beforeReportID uuid.UUID) (*domain.AffiliateReport, error)

	// WithTx runs fn against a Repository bound to a single transaction,
	// committing on success and rolling back on error or panic. Nested
	// calls to WithTx reuse the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
