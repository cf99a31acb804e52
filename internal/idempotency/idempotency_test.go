package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T, ttl time.Duration) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, ttl, "test-guard"), mr
}

func TestClaimWinsOnFirstCaller(t *testing.T) {
	guard, _ := newTestGuard(t, time.Minute)

	ok, err := guard.Claim(context.Background(), "rec:abc")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("expected the first caller to win the claim")
	}
}

func TestSecondClaimIsRejectedWhileFirstHoldsIt(t *testing.T) {
	guard, _ := newTestGuard(t, time.Minute)
	ctx := context.Background()

	if ok, err := guard.Claim(ctx, "rec:abc"); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err := guard.Claim(ctx, "rec:abc")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("expected the second concurrent claim to be rejected as a duplicate")
	}
}

func TestReleaseAllowsARenewedClaim(t *testing.T) {
	guard, _ := newTestGuard(t, time.Minute)
	ctx := context.Background()

	if ok, _ := guard.Claim(ctx, "rec:abc"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	if err := guard.Release(ctx, "rec:abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err := guard.Claim(ctx, "rec:abc")
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !ok {
		t.Fatal("expected a fresh claim to succeed after Release")
	}
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	guard, mr := newTestGuard(t, time.Second)
	ctx := context.Background()

	if ok, _ := guard.Claim(ctx, "rec:abc"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	mr.FastForward(2 * time.Second)
	ok, err := guard.Claim(ctx, "rec:abc")
	if err != nil {
		t.Fatalf("claim after ttl: %v", err)
	}
	if !ok {
		t.Fatal("expected the claim to be reclaimable once its TTL lapsed")
	}
}
