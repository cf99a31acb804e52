// Package idempotency guards against the same job being processed by two
// workers at once. The priority+delay queue (internal/queue) and its Redis
// backend are both at-least-once: a worker that dequeues a job, crashes
// before acknowledging, or a Redis-queue redelivery race can hand the same
// job to a second worker while the first is still mid-Run. Guard closes
// that window with a short-lived Redis lock keyed on worker.Job.Key(),
// grounded in the same redis/go-redis/v9 client internal/queue.RedisQueue
// already uses.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
)

// Guard claims short-lived locks in Redis, scoped by keyPrefix so several
// logical guards (or test runs against one miniredis instance) don't
// collide.
type Guard struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// New builds a Guard. ttl bounds how long a claim survives if the claiming
// worker crashes without calling Release — it is a safety net, not the
// normal release path.
func New(client *redis.Client, ttl time.Duration, keyPrefix string) *Guard {
	return &Guard{client: client, ttl: ttl, keyPrefix: keyPrefix}
}

func (g *Guard) prefixed(key string) string {
	return g.keyPrefix + ":" + key
}

// Claim attempts to become the sole processor of key for the Guard's TTL.
// It reports true if this call won the claim (the caller should proceed),
// false if another in-flight attempt already holds it (the caller should
// treat this as a duplicate delivery and skip).
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefixed(key), 1, g.ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "idempotency claim failed")
	}
	return ok, nil
}

// Release drops a claim early once its work has finished, so a
// legitimately scheduled future retry for the same key isn't blocked until
// the TTL expires.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefixed(key)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "idempotency release failed")
	}
	return nil
}
