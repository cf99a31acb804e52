package queue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, JSONCodec{}, testPriorities(), 1000, 5000, "test-queue")
	return q, mr
}

func TestRedisQueueEnqueueDequeue(t *testing.T) {
	q, _ := newTestRedisQueue(t)

	if err := q.Enqueue(map[string]interface{}{"id": "job-1"}, domain.PriorityHigh, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, ok, err := q.Dequeue(false, 0)
	if err != nil || !ok {
		t.Fatalf("dequeue failed: ok=%v err=%v", ok, err)
	}
	m, ok := job.(map[string]interface{})
	if !ok || m["id"] != "job-1" {
		t.Fatalf("unexpected job payload: %#v", job)
	}
}

func TestRedisQueuePriorityOrdering(t *testing.T) {
	q, _ := newTestRedisQueue(t)

	q.Enqueue(map[string]interface{}{"id": "low"}, domain.PriorityLow, 0)
	q.Enqueue(map[string]interface{}{"id": "high"}, domain.PriorityHigh, 0)

	job, _, _ := q.Dequeue(false, 0)
	if job.(map[string]interface{})["id"] != "high" {
		t.Fatalf("expected high priority job first, got %#v", job)
	}
}

func TestRedisQueueDelayedItem(t *testing.T) {
	q, _ := newTestRedisQueue(t)

	// Real delay: the queue's own readyAt accounting runs off wall-clock
	// time.Now(), not miniredis's simulated clock, so the test waits it out.
	if err := q.Enqueue(map[string]interface{}{"id": "delayed"}, domain.PriorityHigh, 50*time.Millisecond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, ok, _ := q.Dequeue(false, 0)
	if ok {
		t.Fatalf("expected nothing ready before delay elapses")
	}

	time.Sleep(75 * time.Millisecond)

	job, ok, err := q.Dequeue(false, 0)
	if err != nil || !ok {
		t.Fatalf("expected delayed job ready: ok=%v err=%v", ok, err)
	}
	if job.(map[string]interface{})["id"] != "delayed" {
		t.Fatalf("unexpected job: %#v", job)
	}
}

func TestRedisQueueShutdown(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	q.Shutdown()

	err := q.Enqueue(map[string]interface{}{"id": "x"}, domain.PriorityNormal, 0)
	if err == nil {
		t.Fatalf("expected enqueue to fail after shutdown")
	}

	_, ok, _ := q.Dequeue(true, 0)
	if ok {
		t.Fatalf("expected no job after shutdown")
	}
}
