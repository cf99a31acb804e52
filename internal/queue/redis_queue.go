// RedisQueue is the supplemental multi-process queue backend (see
// SPEC_FULL.md §2), grounded in original_source/app/jobs/redis_queue.py and
// its create_queue() backend-switch factory. It keeps the same two-tier
// ready/scheduled model as PriorityDelayQueue but stores it in Redis so
// several worker processes can drain one shared queue. Jobs are serialized
// through an injected Codec since redis.Client only moves bytes.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Codec serializes/deserializes a Job for storage as a Redis value.
type Codec interface {
	Encode(job Job) (string, error)
	Decode(data string) (Job, error)
}

// RedisQueue implements Queue against a shared Redis instance: a sorted set
// keyed by (priorityValue*1e15 + seq) backs the ready tier, and a second
// sorted set keyed by readyAt-unix-nanos backs the scheduled tier. A
// background-free design: Dequeue itself promotes due scheduled items on
// each call, same as the in-memory queue's promoteReadyLocked.
type RedisQueue struct {
	client      *redis.Client
	codec       Codec
	priorities  Priorities
	warnDepth   int
	maxInMem    int
	readyKey    string
	scheduledKey string
	seqKey      string
	shutdownKey string
	onWarnDepth func(depth int)
}

// RedisQueueOption customizes a RedisQueue at construction.
type RedisQueueOption func(*RedisQueue)

// WithRedisWarnDepthHook registers a depth-crossing callback, mirroring
// WithWarnDepthHook on the in-memory queue.
func WithRedisWarnDepthHook(fn func(depth int)) RedisQueueOption {
	return func(q *RedisQueue) { q.onWarnDepth = fn }
}

// NewRedisQueue builds a RedisQueue scoped by keyPrefix, so multiple logical
// queues (or test runs against miniredis) can share one Redis instance
// without colliding.
func NewRedisQueue(client *redis.Client, codec Codec, priorities Priorities, warnDepth, maxInMemory int, keyPrefix string, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		codec:        codec,
		priorities:   priorities,
		warnDepth:    warnDepth,
		maxInMem:     maxInMemory,
		readyKey:     keyPrefix + ":ready",
		scheduledKey: keyPrefix + ":scheduled",
		seqKey:       keyPrefix + ":seq",
		shutdownKey:  keyPrefix + ":shutdown",
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) depth(ctx context.Context) (int, error) {
	readyN, err := q.client.ZCard(ctx, q.readyKey).Result()
	if err != nil {
		return 0, err
	}
	schedN, err := q.client.ZCard(ctx, q.scheduledKey).Result()
	if err != nil {
		return 0, err
	}
	return int(readyN + schedN), nil
}

// Enqueue mirrors PriorityDelayQueue.Enqueue's contract over a shared Redis
// instance.
func (q *RedisQueue) Enqueue(job Job, priority domain.QueuePriority, delay time.Duration) error {
	ctx := context.Background()

	down, err := q.client.Get(ctx, q.shutdownKey).Result()
	if err == nil && down == "1" {
		return apperrors.NewShutdownError()
	}

	priorityValue, ok := q.priorities.valueFor(priority)
	if !ok {
		return apperrors.NewUnknownPriorityError(string(priority))
	}

	depth, err := q.depth(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("redis queue depth check", err)
	}
	if depth >= q.maxInMem {
		return apperrors.NewCapacityExceededError("max_in_memory reached")
	}

	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return apperrors.NewDatabaseError("redis queue sequence increment", err)
	}

	payload, err := q.codec.Encode(job)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to encode job")
	}

	now := time.Now()
	if delay <= 0 {
		score := float64(priorityValue)*1e15 + float64(seq)
		if err := q.client.ZAdd(ctx, q.readyKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return apperrors.NewDatabaseError("redis queue ready push", err)
		}
	} else {
		readyAt := now.Add(delay)
		member := fmt.Sprintf("%d|%d|%s", priorityValue, seq, payload)
		if err := q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(readyAt.UnixNano()), Member: member}).Err(); err != nil {
			return apperrors.NewDatabaseError("redis queue scheduled push", err)
		}
	}

	newDepth := depth + 1
	if newDepth >= q.warnDepth && q.onWarnDepth != nil {
		q.onWarnDepth(newDepth)
	}
	return nil
}

// promoteReady moves every scheduled member whose readyAt has elapsed into
// the ready set.
func (q *RedisQueue) promoteReady(ctx context.Context) error {
	now := time.Now().UnixNano()
	due, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		var priorityValue int
		var seq int64
		var payload string
		if _, err := fmt.Sscanf(member, "%d|%d|%s", &priorityValue, &seq, &payload); err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.scheduledKey, member)
		score := float64(priorityValue)*1e15 + float64(seq)
		pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: score, Member: payload})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue pops the lowest-score (highest-priority, earliest-FIFO) ready
// member. block/timeout semantics match PriorityDelayQueue.Dequeue, polled
// at a fixed interval since Redis has no native condition variable.
func (q *RedisQueue) Dequeue(block bool, timeout time.Duration) (Job, bool, error) {
	ctx := context.Background()
	const pollInterval = 200 * time.Millisecond

	var deadline time.Time
	hasDeadline := block && timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := q.promoteReady(ctx); err != nil {
			return nil, false, apperrors.NewDatabaseError("redis queue promote", err)
		}

		result, err := q.client.ZPopMin(ctx, q.readyKey, 1).Result()
		if err != nil {
			return nil, false, apperrors.NewDatabaseError("redis queue pop", err)
		}
		if len(result) > 0 {
			job, decodeErr := q.codec.Decode(result[0].Member.(string))
			if decodeErr != nil {
				return nil, false, apperrors.Wrap(decodeErr, apperrors.ErrorTypeInternal, "failed to decode job")
			}
			return job, true, nil
		}

		down, _ := q.client.Get(ctx, q.shutdownKey).Result()
		if down == "1" {
			return nil, false, nil
		}
		if !block {
			return nil, false, nil
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return nil, false, nil
		}
		time.Sleep(pollInterval)
	}
}

// Shutdown marks the shared queue closed so every consumer process stops
// blocking once it notices.
func (q *RedisQueue) Shutdown() {
	q.client.Set(context.Background(), q.shutdownKey, "1", 0)
}

// Depth returns the total number of items across both sorted sets.
func (q *RedisQueue) Depth() int {
	depth, _ := q.depth(context.Background())
	return depth
}

// Snapshot returns a diagnostic view of the queue's internals.
func (q *RedisQueue) Snapshot() QueueSnapshot {
	ctx := context.Background()
	readyN, _ := q.client.ZCard(ctx, q.readyKey).Result()
	schedN, _ := q.client.ZCard(ctx, q.scheduledKey).Result()
	down, _ := q.client.Get(ctx, q.shutdownKey).Result()
	return QueueSnapshot{
		Depth:     int(readyN + schedN),
		Ready:     int(readyN),
		Scheduled: int(schedN),
		ShutDown:  down == "1",
	}
}
