package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/P4R1H/affiliate-platform/internal/breaker"
	"github.com/P4R1H/affiliate-platform/internal/clock"
	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/internal/fetcher"
	"github.com/P4R1H/affiliate-platform/internal/repository"
	"github.com/P4R1H/affiliate-platform/internal/repository/memory"
	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/internal/trust"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// staleOnceRepo fails the first WithTx attempt with a stale-data conflict
// (as Postgres's version-gated UpdateReconciliationLog would under a
// concurrent committer) and delegates to the real store from the second
// attempt on, exercising Engine.Run's single-retry-then-succeed wrapper.
type staleOnceRepo struct {
	repository.Repository
	calls int
}

func (r *staleOnceRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	r.calls++
	if r.calls == 1 {
		return apperrors.NewStaleDataError("reconciliation_log", nil)
	}
	return r.Repository.WithTx(ctx, fn)
}

type scriptedAdapter struct {
	metrics *fetcher.Metrics
	err     error
}

func (a *scriptedAdapter) FetchPostMetrics(_ context.Context, _ string) (fetcher.Metrics, error) {
	if a.err != nil {
		return fetcher.Metrics{}, a.err
	}
	return *a.metrics, nil
}

func int64p(v int64) *int64 { return &v }

type fixture struct {
	store     *memory.Store
	platform  *domain.Platform
	affiliate *domain.Affiliate
	post      *domain.Post
	report    *domain.AffiliateReport
}

func seed(submittedAt time.Time) *fixture {
	store := memory.New()

	platform := &domain.Platform{ID: uuid.New(), Name: "tiktok", IsActive: true}
	affiliate := &domain.Affiliate{ID: uuid.New(), TrustScore: trust.DefaultScore}
	post := &domain.Post{ID: uuid.New(), AffiliateID: affiliate.ID, PlatformID: platform.ID, URL: "https://tiktok.com/p/1"}
	report := &domain.AffiliateReport{
		ID: uuid.New(), PostID: post.ID,
		ClaimedViews: 1000, ClaimedClicks: 50, ClaimedConversions: 5,
		SubmittedAt:      submittedAt,
		SubmissionMethod: domain.SubmissionAPI,
	}

	store.PutPlatform(platform)
	store.PutAffiliate(affiliate)
	store.PutPost(post)
	store.PutReport(report)

	return &fixture{store: store, platform: platform, affiliate: affiliate, post: post, report: report}
}

func newEngine(f *fixture, adapter fetcher.Adapter, now time.Time) (*Engine, *clock.Fake) {
	fake := clock.NewFake(now)
	cfg := config.Default()
	// Zero out inter-attempt delay so a failing adapter's retry loop never
	// blocks on the fake clock's Sleep waiting for an Advance that never
	// comes; these tests assert on classification outcomes, not timing.
	cfg.BackoffPolicy.Base = 0
	cfg.BackoffPolicy.Max = 0
	cfg.BackoffPolicy.JitterPct = 0
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, OpenCooldown: time.Minute, HalfOpenProbes: 1}, fake)
	fetch := fetcher.New(fetcher.AdapterRegistry{"tiktok": adapter}, breakers, &cfg.BackoffPolicy, fake)
	scorer := trust.NewScorer(trust.DefaultEventDeltas(), trust.DefaultBounds(), trust.DefaultBucketThresholds())
	e := New(f.store, fetch, scorer, cfg, fake, logr.Discard())
	return e, fake
}

func TestRunMatchedClosesOutAsReconciled(t *testing.T) {
	now := time.Now().UTC()
	// Zero elapsed time keeps the growth allowance at exactly the platform
	// value, so an exact claimed/platform match classifies as MATCHED.
	f := seed(now)
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(1000), Clicks: int64p(50), Conversions: int64p(5)}}
	e, _ := newEngine(f, adapter, now)

	summary, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != domain.StatusMatched {
		t.Fatalf("expected MATCHED, got %s", summary.Status)
	}
	if summary.ScheduledRetryAt != nil {
		t.Fatalf("expected no retry scheduled for a terminal MATCHED result")
	}
	if summary.TrustDelta <= 0 {
		t.Fatalf("expected a positive trust delta for a perfect match, got %v", summary.TrustDelta)
	}

	updatedPost := f.store
	_ = updatedPost
	bundle, err := f.store.LoadAffiliateReport(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("reload bundle: %v", err)
	}
	if !bundle.Post.IsReconciled {
		t.Fatalf("expected post to be marked reconciled after a terminal MATCHED result")
	}
}

func TestRunMissingPlatformDataSchedulesRetry(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now.Add(-time.Hour))
	adapter := &scriptedAdapter{err: errors.New("some transient fetch error")}
	e, _ := newEngine(f, adapter, now)

	summary, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != domain.StatusMissingPlatformData {
		t.Fatalf("expected MISSING_PLATFORM_DATA, got %s", summary.Status)
	}
	if summary.ScheduledRetryAt == nil {
		t.Fatalf("expected a retry to be scheduled on first missing-data attempt")
	}
	if summary.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", summary.AttemptCount)
	}

	bundle, err := f.store.LoadAffiliateReport(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("reload bundle: %v", err)
	}
	if bundle.Post.IsReconciled {
		t.Fatalf("expected post to remain unreconciled while a retry is pending")
	}
}

func TestRunOverclaimRaisesAlertAndPenalizesTrust(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now.Add(-time.Hour))
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(100), Clicks: int64p(5), Conversions: int64p(1)}}
	e, _ := newEngine(f, adapter, now)

	summary, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != domain.StatusAffiliateOverclaimed {
		t.Fatalf("expected AFFILIATE_OVERCLAIMED, got %s", summary.Status)
	}
	if summary.TrustDelta >= 0 {
		t.Fatalf("expected a negative trust delta for an overclaim, got %v", summary.TrustDelta)
	}

	since := now.Add(-24 * time.Hour)
	alert, err := f.store.RecentHighDiscrepancyAlert(context.Background(), f.affiliate.ID.String(), f.platform.ID.String(), since)
	if err != nil {
		t.Fatalf("RecentHighDiscrepancyAlert: %v", err)
	}
	if alert == nil {
		t.Fatalf("expected the overclaim's HIGH_DISCREPANCY alert to satisfy the history lookup")
	}
	if alert.Category != domain.CategoryFraud {
		t.Fatalf("expected overclaim alert category FRAUD, got %s", alert.Category)
	}
}

func TestRunRetriesOnceOnStaleCommitThenSucceeds(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now)
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(1000), Clicks: int64p(50), Conversions: int64p(5)}}
	e, _ := newEngine(f, adapter, now)
	flaky := &staleOnceRepo{Repository: e.Repo}
	e.Repo = flaky

	summary, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected exactly one retry after the stale-data conflict (2 WithTx calls), got %d", flaky.calls)
	}
	if summary.Status != domain.StatusMatched {
		t.Fatalf("expected MATCHED after the retried commit succeeded, got %s", summary.Status)
	}
}

func TestRunGivesUpAfterASecondStaleCommit(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now)
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(1000), Clicks: int64p(50), Conversions: int64p(5)}}
	e, _ := newEngine(f, adapter, now)
	e.Repo = &alwaysStaleRepo{Repository: e.Repo}

	if _, err := e.Run(context.Background(), f.report.ID); err == nil {
		t.Fatal("expected Run to surface the second stale-data conflict instead of retrying forever")
	} else if !apperrors.IsType(err, apperrors.ErrorTypeStaleData) {
		t.Fatalf("expected a stale-data error, got %v", err)
	}
}

// alwaysStaleRepo fails every WithTx attempt, so the retry wrapper's single
// retry budget is exhausted and Run must surface the conflict rather than
// loop forever.
type alwaysStaleRepo struct {
	repository.Repository
}

func (r *alwaysStaleRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	return apperrors.NewStaleDataError("reconciliation_log", nil)
}

func TestRunIsIdempotentAcrossRetriesForTheSameReport(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now.Add(-time.Hour))
	adapter := &scriptedAdapter{err: errors.New("fetch error")}
	e, _ := newEngine(f, adapter, now)

	first, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.AttemptCount != first.AttemptCount+1 {
		t.Fatalf("expected attempt_count to accumulate on the same log, got %d then %d", first.AttemptCount, second.AttemptCount)
	}
}

// recordingNotifier captures every alert it's asked to deliver, standing in
// for internal/notify/slack.Client in tests that shouldn't depend on a real
// Slack client.
type recordingNotifier struct {
	delivered []*domain.Alert
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, alert *domain.Alert) error {
	n.delivered = append(n.delivered, alert)
	return n.err
}

func TestRunDeliversAFiredAlertToTheNotifierAfterCommit(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now.Add(-time.Hour))
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(100), Clicks: int64p(5), Conversions: int64p(1)}}
	e, _ := newEngine(f, adapter, now)
	notifier := &recordingNotifier{}
	e.Notifier = notifier

	if _, err := e.Run(context.Background(), f.report.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(notifier.delivered) != 1 {
		t.Fatalf("expected exactly one alert delivered to the notifier, got %d", len(notifier.delivered))
	}
	if notifier.delivered[0].Type != domain.AlertHighDiscrepancy {
		t.Fatalf("expected the overclaim's HIGH_DISCREPANCY alert, got %s", notifier.delivered[0].Type)
	}
	if notifier.delivered[0].Category != domain.CategoryFraud {
		t.Fatalf("expected the overclaim alert's category to stay FRAUD, got %s", notifier.delivered[0].Category)
	}
}

func TestRunSucceedsEvenWhenTheNotifierFails(t *testing.T) {
	now := time.Now().UTC()
	f := seed(now.Add(-time.Hour))
	adapter := &scriptedAdapter{metrics: &fetcher.Metrics{Views: int64p(100), Clicks: int64p(5), Conversions: int64p(1)}}
	e, _ := newEngine(f, adapter, now)
	e.Notifier = &recordingNotifier{err: errors.New("slack unreachable")}

	summary, err := e.Run(context.Background(), f.report.ID)
	if err != nil {
		t.Fatalf("expected a notifier failure to be logged, not returned: %v", err)
	}
	if summary.Status != domain.StatusAffiliateOverclaimed {
		t.Fatalf("expected the reconciliation itself to still succeed, got %s", summary.Status)
	}
}
