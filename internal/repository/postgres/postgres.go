// Package postgres is the production Repository implementation (spec §6),
// grounded in the connection-configuration pattern
// pkg/datastorage/server.NewPgxConnConfig exercises in the teacher repo:
// pgx as the driver, with DefaultQueryExecMode forced to
// QueryExecModeDescribeExec so schema migrations applied by goose while the
// process is running never leave a stale cached prepared-statement plan
// behind. jmoiron/sqlx and lib/pq round out struct-scanning and array/error
// helpers the way the teacher's repository layer uses them.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	faster "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/P4R1H/affiliate-platform/internal/repository"
	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique-constraint
// conflict, used to detect the EnsureReconciliationLog race (I1).
const uniqueViolation = "23505"

// Repo is the pgx/sqlx-backed Repository. ctxExecer lets every method run
// against either the top-level *sqlx.DB or a transaction bound by WithTx
// without duplicating query bodies.
type Repo struct {
	db ctxExecer
}

// ctxExecer is the subset of *sqlx.DB / *sqlx.Tx every query in this
// package needs.
type ctxExecer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// NewPgxConnConfig parses dsn into a pgx connection config forced onto
// QueryExecModeDescribeExec: the default QueryExecModeCacheStatement caches
// prepared statements that go stale the moment a goose migration alters the
// schema underneath a long-lived connection pool, surfacing as
// "cached plan must not change result type" errors after a rolling deploy.
// DescribeExec still performs the describe step every query (so JSONB
// parameter OIDs are resolved correctly) without caching the result.
func NewPgxConnConfig(dsn string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, faster.Wrap(err, "failed to parse PostgreSQL connection string")
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	return cfg, nil
}

// Open connects to Postgres via the pgx stdlib driver wrapped in sqlx, using
// NewPgxConnConfig for the connection mode fix above.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	cfg, err := NewPgxConnConfig(dsn)
	if err != nil {
		return nil, err
	}
	sqlDB := stdlib.OpenDB(*cfg)
	db := sqlx.NewDb(sqlDB, "pgx")
	if err := db.PingContext(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("ping", err)
	}
	return &Repo{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests with go-sqlmock.
func NewWithDB(db *sql.DB) *Repo {
	return &Repo{db: sqlx.NewDb(db, "pgx")}
}

type row struct {
	ID                 uuid.UUID      `db:"id"`
	PostID             uuid.UUID      `db:"post_id"`
	ClaimedViews       int64          `db:"claimed_views"`
	ClaimedClicks      int64          `db:"claimed_clicks"`
	ClaimedConversions int64          `db:"claimed_conversions"`
	SubmittedAt        time.Time      `db:"submitted_at"`
	SubmissionMethod   string         `db:"submission_method"`
}

func (r *Repo) LoadAffiliateReport(ctx context.Context, id uuid.UUID) (*repository.ReportBundle, error) {
	const q = `
		SELECT ar.id, ar.post_id, ar.claimed_views, ar.claimed_clicks, ar.claimed_conversions,
		       ar.submitted_at, ar.submission_method,
		       p.id AS "post.id", p.campaign_id AS "post.campaign_id", p.affiliate_id AS "post.affiliate_id",
		       p.platform_id AS "post.platform_id", p.url AS "post.url", p.is_reconciled AS "post.is_reconciled",
		       pl.id AS "platform.id", pl.name AS "platform.name", pl.is_active AS "platform.is_active",
		       af.id AS "affiliate.id", af.trust_score AS "affiliate.trust_score",
		       af.total_submissions AS "affiliate.total_submissions",
		       af.accurate_submissions AS "affiliate.accurate_submissions",
		       af.last_trust_update AS "affiliate.last_trust_update"
		FROM affiliate_reports ar
		JOIN posts p ON p.id = ar.post_id
		JOIN platforms pl ON pl.id = p.platform_id
		JOIN affiliates af ON af.id = p.affiliate_id
		WHERE ar.id = $1`

	var joined struct {
		row
		Post      domain.Post      `db:"post"`
		Platform  domain.Platform  `db:"platform"`
		Affiliate domain.Affiliate `db:"affiliate"`
	}

	if err := r.db.GetContext(ctx, &joined, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("affiliate_report").WithDetails(id.String())
		}
		return nil, apperrors.NewDatabaseError("load_affiliate_report", err)
	}

	report := &domain.AffiliateReport{
		ID:                 joined.ID,
		PostID:             joined.PostID,
		ClaimedViews:       joined.ClaimedViews,
		ClaimedClicks:      joined.ClaimedClicks,
		ClaimedConversions: joined.ClaimedConversions,
		SubmittedAt:        joined.SubmittedAt,
		SubmissionMethod:   domain.SubmissionMethod(joined.SubmissionMethod),
	}

	return &repository.ReportBundle{
		Report:    report,
		Post:      &joined.Post,
		Platform:  &joined.Platform,
		Affiliate: &joined.Affiliate,
	}, nil
}

func (r *Repo) EnsureReconciliationLog(ctx context.Context, reportID uuid.UUID) (*domain.ReconciliationLog, error) {
	const insert = `
		INSERT INTO reconciliation_logs (id, affiliate_report_id, status, attempt_count, version)
		VALUES ($1, $2, $3, 0, 0)
		RETURNING id, affiliate_report_id, status, attempt_count, version`

	var log domain.ReconciliationLog
	err := r.db.GetContext(ctx, &log, insert, uuid.New(), reportID, domain.StatusMissingPlatformData)
	if err == nil {
		return &log, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil, apperrors.NewDatabaseError("ensure_reconciliation_log", err)
	}

	// Lost the race to create the first log for this report (I1): load the
	// row the winner inserted instead.
	const selectExisting = `SELECT * FROM reconciliation_logs WHERE affiliate_report_id = $1`
	var existing domain.ReconciliationLog
	if err := r.db.GetContext(ctx, &existing, selectExisting, reportID); err != nil {
		return nil, apperrors.NewDatabaseError("ensure_reconciliation_log_reload", err)
	}
	return &existing, nil
}

func (r *Repo) InsertPlatformReport(ctx context.Context, report *domain.PlatformReport) (uuid.UUID, error) {
	const q = `
		INSERT INTO platform_reports (id, post_id, platform_id, views, clicks, conversions, raw_data, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	id := uuid.New()
	var returned uuid.UUID
	err := r.db.GetContext(ctx, &returned, q,
		id, report.PostID, report.PlatformID, report.Views, report.Clicks, report.Conversions,
		jsonRaw(report.RawData), report.FetchedAt)
	if err != nil {
		return uuid.Nil, apperrors.NewDatabaseError("insert_platform_report", err)
	}
	return returned, nil
}

// UpdateReconciliationLog writes log's mutable fields back, gated by an
// optimistic-lock check against log.Version (WHERE ... AND version = $22):
// a concurrent attempt against the same report that committed first bumps
// the stored version out from under this write, and the zero-rows-affected
// case surfaces as a stale-data conflict rather than silently overwriting
// the winner. Mirrors the SQLAlchemy session's StaleDataError on commit.
func (r *Repo) UpdateReconciliationLog(ctx context.Context, log *domain.ReconciliationLog) error {
	const q = `
		UPDATE reconciliation_logs SET
			status = $2, discrepancy_level = $3,
			views_discrepancy = $4, clicks_discrepancy = $5, conversions_discrepancy = $6,
			views_diff_pct = $7, clicks_diff_pct = $8, conversions_diff_pct = $9,
			max_discrepancy_pct = $10, confidence_ratio = $11, missing_fields = $12,
			attempt_count = $13, last_attempt_at = $14, scheduled_retry_at = $15,
			elapsed_hours = $16, trust_delta = $17, error_code = $18, error_message = $19,
			rate_limited = $20, platform_report_id = $21, version = $22 + 1
		WHERE id = $1 AND version = $22`

	result, err := r.db.ExecContext(ctx, q,
		log.ID, log.Status, log.DiscrepancyLevel,
		log.ViewsDiscrepancy, log.ClicksDiscrepancy, log.ConversionsDiscrepancy,
		roundPct(log.ViewsDiffPct), roundPct(log.ClicksDiffPct), roundPct(log.ConversionsDiffPct),
		roundPct(log.MaxDiscrepancyPct), log.ConfidenceRatio, pq.Array(log.MissingFields),
		log.AttemptCount, log.LastAttemptAt, log.ScheduledRetryAt,
		log.ElapsedHours, roundPct(log.TrustDelta), log.ErrorCode, log.ErrorMessage,
		log.RateLimited, log.PlatformReportID, log.Version)
	if err != nil {
		return apperrors.NewDatabaseError("update_reconciliation_log", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("update_reconciliation_log_rows_affected", err)
	}
	if n == 0 {
		return apperrors.NewStaleDataError("reconciliation_log", nil).WithDetails(log.ID.String())
	}
	log.Version++
	return nil
}

func (r *Repo) UpsertAlert(ctx context.Context, alert *domain.Alert) error {
	const q = `
		INSERT INTO alerts (id, reconciliation_log_id, alert_type, severity, category, status,
		                     affiliate_id, platform_id, title, message, threshold_breached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reconciliation_log_id) DO NOTHING`

	id := alert.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, q,
		id, alert.ReconciliationLogID, alert.Type, alert.Severity, alert.Category, alert.Status,
		alert.AffiliateID, alert.PlatformID, alert.Title, alert.Message, jsonRaw(alert.ThresholdBreached), createdAt)
	if err != nil {
		return apperrors.NewDatabaseError("upsert_alert", err)
	}
	return nil
}

func (r *Repo) ApplyTrustUpdate(ctx context.Context, affiliateID uuid.UUID, newScore float64, lastUpdate time.Time, incrementAccurate bool) error {
	q := `
		UPDATE affiliates SET
			trust_score = $2,
			last_trust_update = $3,
			total_submissions = total_submissions + 1`
	if incrementAccurate {
		q += `, accurate_submissions = accurate_submissions + 1`
	}
	q += ` WHERE id = $1`

	result, err := r.db.ExecContext(ctx, q, affiliateID, newScore, lastUpdate)
	if err != nil {
		return apperrors.NewDatabaseError("apply_trust_update", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("apply_trust_update_rows_affected", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("affiliate").WithDetails(affiliateID.String())
	}
	return nil
}

func (r *Repo) SetPostReconciled(ctx context.Context, postID uuid.UUID, reconciled bool) error {
	const q = `UPDATE posts SET is_reconciled = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, q, postID, reconciled)
	if err != nil {
		return apperrors.NewDatabaseError("set_post_reconciled", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("set_post_reconciled_rows_affected", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("post").WithDetails(postID.String())
	}
	return nil
}

func (r *Repo) RecentHighDiscrepancyAlert(ctx context.Context, affiliateID, platformID string, since time.Time) (*domain.Alert, error) {
	const q = `
		SELECT * FROM alerts
		WHERE alert_type = $1 AND affiliate_id = $2 AND platform_id = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`

	var alert domain.Alert
	err := r.db.GetContext(ctx, &alert, q, domain.AlertHighDiscrepancy, affiliateID, platformID, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("recent_high_discrepancy_alert", err)
	}
	return &alert, nil
}

func (r *Repo) PriorSubmission(ctx context.Context, postID uuid.UUID, beforeReportID uuid.UUID) (*domain.AffiliateReport, error) {
	const q = `
		SELECT ar2.* FROM affiliate_reports ar1
		JOIN affiliate_reports ar2 ON ar2.post_id = ar1.post_id AND ar2.submitted_at < ar1.submitted_at
		WHERE ar1.id = $1 AND ar1.post_id = $2
		ORDER BY ar2.submitted_at DESC
		LIMIT 1`

	var prior domain.AffiliateReport
	err := r.db.GetContext(ctx, &prior, q, beforeReportID, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("prior_submission", err)
	}
	return &prior, nil
}

// WithTx begins a transaction against the underlying *sqlx.DB and hands fn a
// Repo bound to it. Called on a Repo that is already a transaction, it runs
// fn against that same transaction instead of opening a nested one.
func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	sqlDB, ok := r.db.(*sqlx.DB)
	if !ok {
		return fn(ctx, r)
	}

	tx, err := sqlDB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin_tx", err)
	}

	txRepo := &Repo{db: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apperrors.NewDatabaseError("rollback", rbErr).WithDetailsf("original error: %v", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit", err)
	}
	return nil
}

// jsonMap adapts a map to the jsonb columns via driver.Valuer; a nil map
// encodes as SQL NULL rather than the literal string "null".
type jsonMap map[string]interface{}

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func jsonRaw(m map[string]interface{}) interface{} {
	return jsonMap(m)
}

// roundPct rounds a percentage/delta value to 4 decimal places before it
// hits a numeric column, via shopspring/decimal rather than float64
// rounding, so repeated read-modify-write cycles on the same row don't
// accumulate binary-floating-point drift across attempts.
func roundPct(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded, _ := decimal.NewFromFloat(*v).Round(4).Float64()
	return &rounded
}
