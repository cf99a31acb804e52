// Package memory is an in-process Repository implementation used by engine
// and worker tests in place of Postgres. It holds every entity in a map
// guarded by a single mutex; WithTx is a no-op wrapper since there is no
// real transaction to join, but it preserves the interface so engine code
// never branches on which backend it is talking to.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/internal/repository"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Store is the in-memory Repository. Zero value is not usable; use New.
type Store struct {
	mu sync.Mutex

	reports     map[uuid.UUID]*domain.AffiliateReport
	posts       map[uuid.UUID]*domain.Post
	platforms   map[uuid.UUID]*domain.Platform
	affiliates  map[uuid.UUID]*domain.Affiliate
	logs        map[uuid.UUID]*domain.ReconciliationLog // keyed by affiliate_report_id
	platReports map[uuid.UUID]*domain.PlatformReport
	alerts      map[uuid.UUID]*domain.Alert // keyed by reconciliation_log_id
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		reports:     make(map[uuid.UUID]*domain.AffiliateReport),
		posts:       make(map[uuid.UUID]*domain.Post),
		platforms:   make(map[uuid.UUID]*domain.Platform),
		affiliates:  make(map[uuid.UUID]*domain.Affiliate),
		logs:        make(map[uuid.UUID]*domain.ReconciliationLog),
		platReports: make(map[uuid.UUID]*domain.PlatformReport),
		alerts:      make(map[uuid.UUID]*domain.Alert),
	}
}

// Seed helpers let tests populate fixtures directly without going through
// an API boundary that doesn't exist in this package's scope.

func (s *Store) PutReport(r *domain.AffiliateReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
}

func (s *Store) PutPost(p *domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

func (s *Store) PutPlatform(p *domain.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms[p.ID] = p
}

func (s *Store) PutAffiliate(a *domain.Affiliate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.affiliates[a.ID] = a
}

func (s *Store) LoadAffiliateReport(ctx context.Context, id uuid.UUID) (*repository.ReportBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("affiliate_report").WithDetails(id.String())
	}
	post, ok := s.posts[report.PostID]
	if !ok {
		return nil, apperrors.NewNotFoundError("post").WithDetails(report.PostID.String())
	}
	platform, ok := s.platforms[post.PlatformID]
	if !ok {
		return nil, apperrors.NewNotFoundError("platform").WithDetails(post.PlatformID.String())
	}
	affiliate, ok := s.affiliates[post.AffiliateID]
	if !ok {
		return nil, apperrors.NewNotFoundError("affiliate").WithDetails(post.AffiliateID.String())
	}

	reportCopy := *report
	postCopy := *post
	platformCopy := *platform
	affiliateCopy := *affiliate
	return &repository.ReportBundle{
		Report:    &reportCopy,
		Post:      &postCopy,
		Platform:  &platformCopy,
		Affiliate: &affiliateCopy,
	}, nil
}

func (s *Store) EnsureReconciliationLog(ctx context.Context, reportID uuid.UUID) (*domain.ReconciliationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.logs[reportID]; ok {
		cp := *existing
		return &cp, nil
	}
	log := &domain.ReconciliationLog{
		ID:                uuid.New(),
		AffiliateReportID: reportID,
		Status:            domain.StatusMissingPlatformData,
		AttemptCount:      0,
	}
	s.logs[reportID] = log
	cp := *log
	return &cp, nil
}

func (s *Store) InsertPlatformReport(ctx context.Context, report *domain.PlatformReport) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	cp := *report
	cp.ID = id
	s.platReports[id] = &cp
	return id, nil
}

// UpdateReconciliationLog applies the same optimistic-lock check the
// Postgres implementation enforces via SQL: a write against a version the
// store no longer holds is a stale-data conflict, not a silent overwrite.
func (s *Store) UpdateReconciliationLog(ctx context.Context, log *domain.ReconciliationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.logs[log.AffiliateReportID]
	if !ok {
		return apperrors.NewNotFoundError("reconciliation_log").WithDetails(log.AffiliateReportID.String())
	}
	if current.Version != log.Version {
		return apperrors.NewStaleDataError("reconciliation_log", nil).WithDetails(log.ID.String())
	}
	cp := *log
	cp.Version++
	s.logs[log.AffiliateReportID] = &cp
	log.Version = cp.Version
	return nil
}

func (s *Store) UpsertAlert(ctx context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ReconciliationLogID]; exists {
		return nil // I5: at most one alert per log
	}
	cp := *alert
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.alerts[alert.ReconciliationLogID] = &cp
	return nil
}

func (s *Store) ApplyTrustUpdate(ctx context.Context, affiliateID uuid.UUID, newScore float64, lastUpdate time.Time, incrementAccurate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	affiliate, ok := s.affiliates[affiliateID]
	if !ok {
		return apperrors.NewNotFoundError("affiliate").WithDetails(affiliateID.String())
	}
	affiliate.TrustScore = newScore
	affiliate.LastTrustUpdate = &lastUpdate
	affiliate.TotalSubmissions++
	if incrementAccurate {
		affiliate.AccurateSubmissions++
	}
	return nil
}

func (s *Store) SetPostReconciled(ctx context.Context, postID uuid.UUID, reconciled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return apperrors.NewNotFoundError("post").WithDetails(postID.String())
	}
	post.IsReconciled = reconciled
	return nil
}

func (s *Store) RecentHighDiscrepancyAlert(ctx context.Context, affiliateID, platformID string, since time.Time) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	affID, err := uuid.Parse(affiliateID)
	if err != nil {
		return nil, nil
	}
	platID, err := uuid.Parse(platformID)
	if err != nil {
		return nil, nil
	}

	var candidates []*domain.Alert
	for _, a := range s.alerts {
		if a.Type == domain.AlertHighDiscrepancy && a.AffiliateID == affID && a.PlatformID == platID && !a.CreatedAt.Before(since) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	cp := *candidates[0]
	return &cp, nil
}

func (s *Store) PriorSubmission(ctx context.Context, postID uuid.UUID, beforeReportID uuid.UUID) (*domain.AffiliateReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, ok := s.reports[beforeReportID]
	if !ok {
		return nil, nil
	}

	var best *domain.AffiliateReport
	for _, r := range s.reports {
		if r.PostID != postID || r.ID == beforeReportID {
			continue
		}
		if r.SubmittedAt.After(before.SubmittedAt) {
			continue
		}
		if best == nil || r.SubmittedAt.After(best.SubmittedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// WithTx has no real transaction to join; it runs fn directly against s
// since every Store mutation already holds the store-wide mutex for its
// own duration. There is no isolation and no rollback: writes fn made
// before returning an error stay in the store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	return fn(ctx, s)
}
