// Package worker implements the background reconciliation worker pool,
// grounded in original_source/app/jobs/worker_reconciliation.py: a pool of
// loops pulling Job values off a queue.Queue and handing each
// to an engine.Engine.Run, with a bounded diagnostic error buffer
// standing in for the original's module-level LAST_EXCEPTIONS list.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/P4R1H/affiliate-platform/internal/engine"
	"github.com/P4R1H/affiliate-platform/internal/idempotency"
	"github.com/P4R1H/affiliate-platform/internal/queue"
	"github.com/P4R1H/affiliate-platform/internal/shared/logging"
)

// JobCodec encodes/decodes Job values for queue.RedisQueue. queue.JSONCodec
// decodes into a bare map[string]interface{} (its own doc comment flags
// this as unusable for a typed Job), so Redis-backed deployments need this
// typed codec instead to get a concrete Job back out of loop()'s type
// assertion.
type JobCodec struct{}

func (JobCodec) Encode(job queue.Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JobCodec) Decode(data string) (queue.Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, err
	}
	return j, nil
}

// Job is the payload enqueued for a worker to process, equivalent to
// original_source's ReconciliationJob dataclass.
type Job struct {
	AffiliateReportID uuid.UUID `json:"affiliate_report_id"`
	Priority          string    `json:"priority"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
}

// Key returns the idempotency key original_source's ReconciliationJob.key()
// derives for this job.
func (j Job) Key() string {
	return "rec:" + j.AffiliateReportID.String()
}

// FailureRecord is one diagnostic entry in the pool's bounded ring buffer,
// equivalent to an entry in original_source's LAST_EXCEPTIONS list.
type FailureRecord struct {
	AffiliateReportID uuid.UUID
	Error             string
	OccurredAt        time.Time
}

// Pool pulls jobs off a queue and runs each through an Engine, concurrently
// across NumWorkers loops. Idempotency, when set, guards against the same
// job being handed to two workers at once (a redelivery race on the Redis
// queue backend, or a requeue after a crash mid-Run).
type Pool struct {
	Queue        queue.Queue
	Engine       *engine.Engine
	NumWorkers   int
	PollTimeout  time.Duration
	Log          logr.Logger
	Idempotency  *idempotency.Guard

	mu          sync.Mutex
	failures    []FailureRecord
	maxFailures int
}

// New constructs a Pool. maxFailures bounds the diagnostic ring buffer
// (RecentErrors); 0 defaults to 100. guard may be nil, disabling the
// duplicate-delivery check (the default in-memory queue backend is a
// single process, so it never double-delivers).
func New(q queue.Queue, eng *engine.Engine, numWorkers int, pollTimeout time.Duration, log logr.Logger, maxFailures int, guard *idempotency.Guard) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 100
	}
	return &Pool{
		Queue:       q,
		Engine:      eng,
		NumWorkers:  numWorkers,
		PollTimeout: pollTimeout,
		Log:         log,
		Idempotency: guard,
		maxFailures: maxFailures,
	}
}

// Run starts NumWorkers loops, each dequeuing and processing jobs until ctx
// is canceled or the queue shuts down. It blocks until every worker loop
// has returned, mirroring original_source's one-thread-per-call shape but
// fanned out across a configurable pool via errgroup rather than threading.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.NumWorkers; i++ {
		g.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := p.Queue.Dequeue(true, p.PollTimeout)
		if err != nil {
			p.Log.Error(err, "worker loop error", logging.NewFields().Component("worker").KVs()...)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue // poll timeout elapsed with nothing ready; loop again
		}

		recJob, ok := job.(Job)
		if !ok {
			p.Log.Info("skipping unknown job type", logging.NewFields().Component("worker").KVs()...)
			continue
		}

		p.process(ctx, recJob)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	fields := logging.NewFields().Component("worker").Operation("process").
		Resource("affiliate_report", job.AffiliateReportID.String())

	if p.Idempotency != nil {
		claimed, err := p.Idempotency.Claim(ctx, job.Key())
		if err != nil {
			p.Log.Error(err, "idempotency claim failed, processing anyway", fields.KVs()...)
		} else if !claimed {
			p.Log.Info("skipping duplicate delivery", fields.KVs()...)
			return
		} else {
			defer func() {
				if relErr := p.Idempotency.Release(ctx, job.Key()); relErr != nil {
					p.Log.Error(relErr, "idempotency release failed", fields.KVs()...)
				}
			}()
		}
	}

	p.Log.Info("processing reconciliation job", fields.KVs()...)

	summary, err := p.Engine.Run(ctx, job.AffiliateReportID)
	if err != nil {
		p.Log.Error(err, "reconciliation job failed", fields.KVs()...)
		p.recordFailure(job.AffiliateReportID, err)
		return
	}

	p.Log.Info("reconciliation completed", fields.With("status", string(summary.Status)).KVs()...)

	if summary.ScheduledRetryAt != nil {
		p.reenqueueRetry(job, summary, fields)
	}
}

// reenqueueRetry re-enqueues a job for a scheduled non-terminal retry (spec
// §4.11), with priority recomputed from the affiliate's post-update trust
// bucket and the report's suspicion flags rather than reused from the
// original delivery.
func (p *Pool) reenqueueRetry(job Job, summary engine.Summary, fields logging.Fields) {
	delay := time.Until(*summary.ScheduledRetryAt)
	if delay < 0 {
		delay = 0
	}
	retryJob := Job{
		AffiliateReportID: job.AffiliateReportID,
		Priority:          string(summary.NextPriority),
		CorrelationID:     job.CorrelationID,
	}
	if err := p.Queue.Enqueue(retryJob, summary.NextPriority, delay); err != nil {
		p.Log.Error(err, "failed to re-enqueue scheduled retry", fields.With("priority", string(summary.NextPriority)).KVs()...)
	}
}

func (p *Pool) recordFailure(reportID uuid.UUID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, FailureRecord{AffiliateReportID: reportID, Error: err.Error(), OccurredAt: time.Now().UTC()})
	if len(p.failures) > p.maxFailures {
		p.failures = p.failures[len(p.failures)-p.maxFailures:]
	}
}

// RecentErrors returns a snapshot of the most recent job failures, equivalent
// to reading original_source's module-level LAST_EXCEPTIONS list.
func (p *Pool) RecentErrors() []FailureRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FailureRecord, len(p.failures))
	copy(out, p.failures)
	return out
}
