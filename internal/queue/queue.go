// Package queue implements the in-memory priority+delay queue (spec §4.6),
// grounded in original_source/app/jobs/queue.py: two binary heaps — one for
// jobs ready to run now, one for jobs scheduled for a future ready_at — with
// a monotonic sequence counter breaking priority ties in FIFO order.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/P4R1H/affiliate-platform/internal/clock"
	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Job is anything the queue can carry; the worker pool type-asserts it back
// to a concrete reconciliation job.
type Job interface{}

// Queue is the contract the worker pool depends on; both the
// in-memory PriorityDelayQueue and the Redis-backed variant satisfy it.
type Queue interface {
	Enqueue(job Job, priority domain.QueuePriority, delay time.Duration) error
	Dequeue(block bool, timeout time.Duration) (Job, bool, error)
	Shutdown()
	Depth() int
	Snapshot() QueueSnapshot
}

// QueueSnapshot is a diagnostic view of queue depth.
type QueueSnapshot struct {
	Depth     int
	Ready     int
	Scheduled int
	ShutDown  bool
}

// Priorities maps the three qualitative labels to numeric heap keys; lower
// sorts first.
type Priorities struct {
	High   int
	Normal int
	Low    int
}

func (p Priorities) valueFor(priority domain.QueuePriority) (int, bool) {
	switch priority {
	case domain.PriorityHigh:
		return p.High, true
	case domain.PriorityNormal:
		return p.Normal, true
	case domain.PriorityLow:
		return p.Low, true
	default:
		return 0, false
	}
}

// item is one enqueued job, tracked in whichever heap currently owns it.
type item struct {
	job           Job
	priorityLabel domain.QueuePriority
	priorityValue int
	enqueuedAt    time.Time
	readyAt       time.Time
	seq           uint64
}

// readyHeap orders by (priorityValue, seq) — lower priority value and
// earlier sequence number pop first.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priorityValue != h[j].priorityValue {
		return h[i].priorityValue < h[j].priorityValue
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// scheduledHeap orders by (readyAt, priorityValue, seq) — the earliest
// ready_at pops first regardless of priority, since a scheduled item isn't
// eligible to run until its delay elapses.
type scheduledHeap []*item

func (h scheduledHeap) Len() int { return len(h) }
func (h scheduledHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	if h[i].priorityValue != h[j].priorityValue {
		return h[i].priorityValue < h[j].priorityValue
	}
	return h[i].seq < h[j].seq
}
func (h scheduledHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scheduledHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }
func (h *scheduledHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// PriorityDelayQueue is the in-memory, single-process implementation of
// Queue: two heaps guarded by a mutex, with a condition variable waking
// blocked consumers whenever something becomes ready or the queue shuts
// down.
type PriorityDelayQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	clock      clock.Clock
	priorities Priorities
	warnDepth  int
	maxInMem   int
	ready      readyHeap
	scheduled  scheduledHeap
	seqCounter uint64
	shutdown   bool
	onWarnDepth func(depth int)
}

// Option customizes a PriorityDelayQueue at construction.
type Option func(*PriorityDelayQueue)

// WithWarnDepthHook registers a callback invoked on every Enqueue that
// leaves queue depth at or above WarnDepth, for ambient logging/metrics.
func WithWarnDepthHook(fn func(depth int)) Option {
	return func(q *PriorityDelayQueue) { q.onWarnDepth = fn }
}

// New constructs an empty PriorityDelayQueue.
func New(priorities Priorities, warnDepth, maxInMemory int, clk clock.Clock, opts ...Option) *PriorityDelayQueue {
	if clk == nil {
		clk = clock.Real
	}
	q := &PriorityDelayQueue{
		clock:      clk,
		priorities: priorities,
		warnDepth:  warnDepth,
		maxInMem:   maxInMemory,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds job at the given priority, optionally delayed by delay
// before it becomes ready to dequeue.
func (q *PriorityDelayQueue) Enqueue(job Job, priority domain.QueuePriority, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return apperrors.NewShutdownError()
	}

	priorityValue, ok := q.priorities.valueFor(priority)
	if !ok {
		return apperrors.NewUnknownPriorityError(string(priority))
	}

	depth := q.ready.Len() + q.scheduled.Len()
	if depth >= q.maxInMem {
		return apperrors.NewCapacityExceededError("max_in_memory reached")
	}

	q.seqCounter++
	now := q.clock.Now()
	it := &item{
		job:           job,
		priorityLabel: priority,
		priorityValue: priorityValue,
		enqueuedAt:    now,
		readyAt:       now.Add(delay),
		seq:           q.seqCounter,
	}

	if delay <= 0 {
		heap.Push(&q.ready, it)
	} else {
		heap.Push(&q.scheduled, it)
	}

	newDepth := depth + 1
	if newDepth >= q.warnDepth && q.onWarnDepth != nil {
		q.onWarnDepth(newDepth)
	}

	q.cond.Broadcast()
	return nil
}

// promoteReadyLocked moves every scheduled item whose readyAt has elapsed
// into the ready heap. Caller must hold q.mu.
func (q *PriorityDelayQueue) promoteReadyLocked(now time.Time) {
	for q.scheduled.Len() > 0 && !q.scheduled[0].readyAt.After(now) {
		it := heap.Pop(&q.scheduled).(*item)
		heap.Push(&q.ready, it)
	}
}

// Dequeue pops the highest-priority ready job. If block is true and nothing
// is ready, it waits — up to timeout if timeout > 0, indefinitely otherwise
// — promoting scheduled items as their delay elapses and waking early when
// the next scheduled item becomes eligible. Returns (nil, false, nil) if the
// queue shuts down or the wait times out with nothing ready.
func (q *PriorityDelayQueue) Dequeue(block bool, timeout time.Duration) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deadline time.Time
	hasDeadline := block && timeout > 0
	if hasDeadline {
		deadline = q.clock.Now().Add(timeout)
	}

	for {
		now := q.clock.Now()
		q.promoteReadyLocked(now)

		if q.ready.Len() > 0 {
			it := heap.Pop(&q.ready).(*item)
			return it.job, true, nil
		}

		if q.shutdown {
			return nil, false, nil
		}

		if !block {
			return nil, false, nil
		}

		if hasDeadline && !now.Before(deadline) {
			return nil, false, nil
		}

		waitFor := q.remainingWaitLocked(now, hasDeadline, deadline)
		if !q.awaitLocked(waitFor) {
			return nil, false, nil
		}
	}
}

// remainingWaitLocked computes how long Dequeue should block before
// re-checking: until the next scheduled item's readyAt, or until the
// caller's own deadline, whichever is sooner. A zero duration means "wait
// indefinitely for a signal" (no scheduled items, no caller deadline).
func (q *PriorityDelayQueue) remainingWaitLocked(now time.Time, hasDeadline bool, deadline time.Time) time.Duration {
	var wait time.Duration
	haveWait := false

	if q.scheduled.Len() > 0 {
		untilReady := q.scheduled[0].readyAt.Sub(now)
		if untilReady < 0 {
			untilReady = 0
		}
		wait = untilReady
		haveWait = true
	}

	if hasDeadline {
		untilDeadline := deadline.Sub(now)
		if untilDeadline < 0 {
			untilDeadline = 0
		}
		if !haveWait || untilDeadline < wait {
			wait = untilDeadline
			haveWait = true
		}
	}

	if !haveWait {
		return 0 // block until signaled, no known deadline to race against
	}
	return wait
}

// awaitLocked blocks on q.cond for at most d (0 meaning indefinitely),
// returning false if the queue shut down while waiting. Must be called with
// q.mu held; releases and reacquires it internally via sync.Cond.Wait.
func (q *PriorityDelayQueue) awaitLocked(d time.Duration) bool {
	if d <= 0 {
		q.cond.Wait()
		return !q.shutdown
	}

	woken := make(chan struct{})
	timer := q.clock.NewTimer(d)
	go func() {
		select {
		case <-timer.C():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-woken:
		}
	}()
	q.cond.Wait()
	close(woken)
	timer.Stop()
	return !q.shutdown
}

// Shutdown marks the queue closed and wakes every blocked consumer; queued
// items are not discarded (callers may still Depth/Snapshot). Dequeue still
// returns items that are already ready, but it no longer blocks: once the
// ready heap is empty it returns nothing, even while scheduled items wait.
func (q *PriorityDelayQueue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Depth returns the total number of items across both heaps.
func (q *PriorityDelayQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.scheduled.Len()
}

// Snapshot returns a diagnostic view of the queue's internals.
func (q *PriorityDelayQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueSnapshot{
		Depth:     q.ready.Len() + q.scheduled.Len(),
		Ready:     q.ready.Len(),
		Scheduled: q.scheduled.Len(),
		ShutDown:  q.shutdown,
	}
}

// Purge clears both heaps; intended for test cleanup only.
func (q *PriorityDelayQueue) Purge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = nil
	q.scheduled = nil
}
