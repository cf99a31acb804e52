// Package engine implements the reconciliation orchestrator (spec §4),
// grounded in
// original_source/app/services/reconciliation_engine.py's
// run_reconciliation: load report -> ensure log -> fetch platform metrics
// -> classify -> apply trust -> persist -> schedule retry -> alert.
package engine

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/P4R1H/affiliate-platform/internal/alerting"
	"github.com/P4R1H/affiliate-platform/internal/classifier"
	"github.com/P4R1H/affiliate-platform/internal/clock"
	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/internal/fetcher"
	"github.com/P4R1H/affiliate-platform/internal/repository"
	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/internal/shared/logging"
	"github.com/P4R1H/affiliate-platform/internal/trust"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Summary is the structured result of one Run, equivalent to the dict
// run_reconciliation returns for API/job callers.
type Summary struct {
	AffiliateReportID uuid.UUID
	Status            domain.ReconciliationStatus
	AttemptCount      int
	ScheduledRetryAt  *time.Time
	TrustDelta        float64
	NewTrustScore     float64
	DiscrepancyLevel  *domain.DiscrepancyLevel
	MaxDiscrepancyPct *float64
	RateLimited       bool
	ErrorCode         string
	MissingFields     []string
	// NextPriority is the queue priority (spec §4.7, recomputed from the
	// affiliate's post-update trust bucket and the report's suspicion
	// flags) a caller must use if it re-enqueues this job for
	// ScheduledRetryAt - see the retry re-enqueue step in spec §4.11.
	NextPriority domain.QueuePriority
}

// Notifier delivers a freshly-raised alert to an out-of-band sink (Slack,
// pager, ...). It runs after the reconciliation transaction commits, so a
// delivery failure never rolls back the persisted alert; the engine only
// logs it.
type Notifier interface {
	Notify(ctx context.Context, alert *domain.Alert) error
}

// Engine wires together every reconciliation collaborator behind a single
// Run entrypoint, called by internal/worker's pool (which cmd/reconciler
// builds and starts).
type Engine struct {
	Repo     repository.Repository
	Fetcher  *fetcher.Fetcher
	Scorer   *trust.Scorer
	Cfg      *config.Config
	Clock    clock.Clock
	Log      logr.Logger
	Notifier Notifier // optional; nil disables alert delivery entirely
}

// New constructs an Engine from its collaborators.
func New(repo repository.Repository, f *fetcher.Fetcher, scorer *trust.Scorer, cfg *config.Config, clk clock.Clock, log logr.Logger) *Engine {
	if clk == nil {
		clk = clock.Real
	}
	return &Engine{Repo: repo, Fetcher: f, Scorer: scorer, Cfg: cfg, Clock: clk, Log: log}
}

// Run executes one reconciliation attempt for the affiliate report
// identified by reportID, returning a Summary describing what happened.
func (e *Engine) Run(ctx context.Context, reportID uuid.UUID) (Summary, error) {
	bundle, err := e.Repo.LoadAffiliateReport(ctx, reportID)
	if err != nil {
		return Summary{}, err
	}
	if err := bundle.Report.Validate(); err != nil {
		return Summary{}, apperrors.NewValidationError("affiliate report failed struct validation").WithDetails(err.Error())
	}

	now := e.Clock.Now()
	submittedAt := bundle.Report.SubmittedAt
	elapsedHours := clock.ElapsedHours(submittedAt, now)
	if elapsedHours < 0 {
		elapsedHours = 0
	}

	outcome := e.Fetcher.Fetch(ctx, bundle.Platform.Name, bundle.Post.URL)

	var platformViews, platformClicks, platformConversions *int64
	if outcome.Metrics != nil {
		platformViews = outcome.Metrics.Views
		platformClicks = outcome.Metrics.Clicks
		platformConversions = outcome.Metrics.Conversions
	}

	classification := classifier.Classify(&e.Cfg.Reconciliation, classifier.Input{
		ClaimedViews:        bundle.Report.ClaimedViews,
		ClaimedClicks:       bundle.Report.ClaimedClicks,
		ClaimedConversions:  bundle.Report.ClaimedConversions,
		PlatformViews:       platformViews,
		PlatformClicks:      platformClicks,
		PlatformConversions: platformConversions,
		ElapsedHours:        elapsedHours,
	})

	var trustDelta float64
	var newTrustScore = bundle.Affiliate.TrustScore
	if classification.TrustEvent != "" {
		newTrustScore, trustDelta = e.Scorer.Apply(bundle.Affiliate.TrustScore, classification.TrustEvent)
	}

	var log *domain.ReconciliationLog
	var retryTime *time.Time
	var firedAlert *domain.Alert

	// Each attempt reloads the log fresh from tx.EnsureReconciliationLog,
	// so a stale-data retry automatically picks up whichever version won
	// the race; retry.WithMaxRetries(1, ...) mirrors the original's single
	// rollback-merge-recommit attempt before it gives up and raises.
	txFn := func(ctx context.Context, tx repository.Repository) error {
		log, err = tx.EnsureReconciliationLog(ctx, bundle.Report.ID)
		if err != nil {
			return err
		}

		if classification.TrustEvent != "" {
			if txErr := tx.ApplyTrustUpdate(ctx, bundle.Affiliate.ID, newTrustScore, now, classification.TrustEvent == domain.EventPerfectMatch); txErr != nil {
				return txErr
			}
		}

		var platformReportID *uuid.UUID
		if outcome.Success && hasAnyMetric(outcome.Metrics) {
			id, txErr := tx.InsertPlatformReport(ctx, &domain.PlatformReport{
				PostID:      bundle.Post.ID,
				PlatformID:  bundle.Platform.ID,
				Views:       outcome.Metrics.Views,
				Clicks:      outcome.Metrics.Clicks,
				Conversions: outcome.Metrics.Conversions,
				RawData:     rawDataOf(outcome.Metrics),
				FetchedAt:   now,
			})
			if txErr != nil {
				return txErr
			}
			platformReportID = &id
		}

		log.AttemptCount++
		log.LastAttemptAt = &now
		log.ElapsedHours = elapsedHours
		log.Status = classification.Status
		log.DiscrepancyLevel = classification.DiscrepancyLevel
		log.ViewsDiscrepancy = classification.ViewsDiscrepancy
		log.ClicksDiscrepancy = classification.ClicksDiscrepancy
		log.ConversionsDiscrepancy = classification.ConversionsDiscrepancy
		log.ViewsDiffPct = classification.ViewsDiffPct
		log.ClicksDiffPct = classification.ClicksDiffPct
		log.ConversionsDiffPct = classification.ConversionsDiffPct
		log.MaxDiscrepancyPct = classification.MaxDiscrepancyPct
		log.ConfidenceRatio = classification.ConfidenceRatio
		log.MissingFields = classification.MissingFields
		log.PlatformReportID = platformReportID
		log.RateLimited = outcome.RateLimited
		if trustDelta != 0 {
			log.TrustDelta = &trustDelta
		}
		if outcome.ErrorCode != "" {
			code := outcome.ErrorCode
			log.ErrorCode = &code
		}
		if outcome.ErrorMessage != "" {
			msg := outcome.ErrorMessage
			log.ErrorMessage = &msg
		}

		retryTime = scheduleRetry(&e.Cfg.RetryPolicy, classification.Status, log.AttemptCount, submittedAt, now)
		log.ScheduledRetryAt = retryTime

		if classification.Status.IsTerminal() && retryTime == nil {
			if txErr := tx.SetPostReconciled(ctx, bundle.Post.ID, true); txErr != nil {
				return txErr
			}
		}

		if txErr := tx.UpdateReconciliationLog(ctx, log); txErr != nil {
			return txErr
		}

		alert, alertErr := alerting.Decide(ctx, &e.Cfg.Alerting, tx, log, bundle.Affiliate.ID.String(), bundle.Platform.ID.String(), retryTime != nil)
		if alertErr != nil {
			return alertErr
		}
		if alert != nil {
			if txErr := tx.UpsertAlert(ctx, alert); txErr != nil {
				return txErr
			}
			firedAlert = alert
		}

		return nil
	}

	commitErr := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(0)), func(ctx context.Context) error {
		if txErr := e.Repo.WithTx(ctx, txFn); txErr != nil {
			if apperrors.IsType(txErr, apperrors.ErrorTypeStaleData) {
				e.Log.Info("stale data on commit, retrying once", logging.NewFields().
					Component("engine").Operation("run").Resource("affiliate_report", reportID.String()).KVs()...)
				return retry.RetryableError(txErr)
			}
			return txErr
		}
		return nil
	})
	if commitErr != nil {
		e.Log.Error(commitErr, "reconciliation attempt failed", logging.NewFields().
			Component("engine").Operation("run").Resource("affiliate_report", reportID.String()).KVs()...)
		return Summary{}, commitErr
	}

	if firedAlert != nil && e.Notifier != nil {
		if notifyErr := e.Notifier.Notify(ctx, firedAlert); notifyErr != nil {
			e.Log.Error(notifyErr, "alert notifier delivery failed", logging.NewFields().
				Component("engine").Operation("run").Resource("affiliate_report", reportID.String()).KVs()...)
		}
	}

	bucket := e.Scorer.BucketFor(newTrustScore)
	nextPriority := trust.PriorityFor(bucket, bundle.Report.HasSuspicionFlags())

	return Summary{
		AffiliateReportID: bundle.Report.ID,
		Status:            classification.Status,
		AttemptCount:      log.AttemptCount,
		ScheduledRetryAt:  retryTime,
		TrustDelta:        trustDelta,
		NewTrustScore:     newTrustScore,
		DiscrepancyLevel:  classification.DiscrepancyLevel,
		MaxDiscrepancyPct: classification.MaxDiscrepancyPct,
		RateLimited:       outcome.RateLimited,
		ErrorCode:         outcome.ErrorCode,
		MissingFields:     classification.MissingFields,
		NextPriority:      nextPriority,
	}, nil
}

// scheduleRetry mirrors original_source's _schedule_retry: linear backoff
// for MISSING_PLATFORM_DATA bounded by max attempts and a submission-age
// window, a single fixed-delay extra attempt for INCOMPLETE_PLATFORM_DATA,
// and no retry for every other status.
func scheduleRetry(cfg *config.RetryPolicyConfig, status domain.ReconciliationStatus, attemptCount int, submittedAt, now time.Time) *time.Time {
	switch status {
	case domain.StatusMissingPlatformData:
		if attemptCount >= cfg.Missing.MaxAttempts {
			return nil
		}
		if now.Sub(submittedAt).Hours() > float64(cfg.Missing.WindowHours) {
			return nil
		}
		multiplier := attemptCount
		if multiplier < 1 {
			multiplier = 1
		}
		delay := time.Duration(multiplier) * cfg.Missing.InitialDelay
		next := now.Add(delay)
		return &next
	case domain.StatusIncompletePlatformData:
		if attemptCount <= 1+cfg.Incomplete.MaxAdditionalAttempts {
			next := now.Add(cfg.Incomplete.Delay)
			return &next
		}
		return nil
	default:
		return nil
	}
}

func hasAnyMetric(m *fetcher.Metrics) bool {
	if m == nil {
		return false
	}
	return m.Views != nil || m.Clicks != nil || m.Conversions != nil
}

func rawDataOf(m *fetcher.Metrics) map[string]interface{} {
	if m == nil {
		return nil
	}
	raw := map[string]interface{}{}
	if m.Views != nil {
		raw["views"] = *m.Views
	}
	if m.Clicks != nil {
		raw["clicks"] = *m.Clicks
	}
	if m.Conversions != nil {
		raw["conversions"] = *m.Conversions
	}
	return raw
}
