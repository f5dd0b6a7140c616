package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	"github.com/gigbridge/trustcore/internal/repository"
)

func newRateLimitServiceForTest(t *testing.T, store WindowStore) *RateLimitService {
	t.Helper()
	rules := map[string]RateLimitRule{
		"test:op": {MaxRequests: 5, Window: time.Minute},
	}
	return NewRateLimitService(store, newAuditServiceForTest(t, newTestDB(t)), rules, RateLimitRule{MaxRequests: 60, Window: time.Hour})
}

func TestCheckRateLimitFixedWindow(t *testing.T) {
	svc := newRateLimitServiceForTest(t, NewInMemoryWindowStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := svc.CheckRateLimit(ctx, "user-1", "test:op", testIP, testUA)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if want := 4 - i; result.Remaining != want {
			t.Fatalf("request %d: remaining %d, want %d", i, result.Remaining, want)
		}
	}

	result, err := svc.CheckRateLimit(ctx, "user-1", "test:op", testIP, testUA)
	if err != nil {
		t.Fatalf("check over limit: %v", err)
	}
	if result.Allowed {
		t.Fatal("sixth request within the window should be denied")
	}
	if result.RetryAfter <= 0 {
		t.Fatalf("denied result needs a positive retry-after, got %v", result.RetryAfter)
	}
	if !result.ResetTime.After(time.Now()) {
		t.Fatalf("reset time should be in the future, got %v", result.ResetTime)
	}
}

func TestCheckRateLimitIsolatesIdentitiesAndEndpoints(t *testing.T) {
	svc := newRateLimitServiceForTest(t, NewInMemoryWindowStore())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := svc.CheckRateLimit(ctx, "user-1", "test:op", testIP, testUA); err != nil {
			t.Fatalf("exhaust: %v", err)
		}
	}
	result, err := svc.CheckRateLimit(ctx, "user-2", "test:op", testIP, testUA)
	if err != nil {
		t.Fatalf("other identity: %v", err)
	}
	if !result.Allowed {
		t.Fatal("a different identity must have its own window")
	}
	result, err = svc.CheckRateLimit(ctx, "user-1", "other:op", testIP, testUA)
	if err != nil {
		t.Fatalf("other endpoint: %v", err)
	}
	if !result.Allowed {
		t.Fatal("a different endpoint must have its own window")
	}
}

func TestCheckRateLimitValidation(t *testing.T) {
	svc := newRateLimitServiceForTest(t, NewInMemoryWindowStore())
	if _, err := svc.CheckRateLimit(context.Background(), "", "test:op", testIP, testUA); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty identity: got %v, want ErrValidation", err)
	}
	if _, err := svc.CheckRateLimit(context.Background(), "user-1", "", testIP, testUA); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty endpoint: got %v, want ErrValidation", err)
	}
}

func TestBlockIPOverridesCounters(t *testing.T) {
	db := newTestDB(t)
	audit := newAuditServiceForTest(t, db)
	events := repository.NewAuditRepository(db)
	svc := NewRateLimitService(NewInMemoryWindowStore(), audit, nil, RateLimitRule{})
	ctx := context.Background()

	if err := svc.BlockIP(ctx, testIP, time.Hour, "manual review"); err != nil {
		t.Fatalf("block ip: %v", err)
	}
	result, err := svc.CheckRateLimit(ctx, "user-1", "messages:send", testIP, testUA)
	if err != nil {
		t.Fatalf("check blocked ip: %v", err)
	}
	if result.Allowed {
		t.Fatal("blocked ip must be denied on every endpoint")
	}
	// Other IPs are unaffected.
	result, err = svc.CheckRateLimit(ctx, "user-1", "messages:send", otherIP, testUA)
	if err != nil {
		t.Fatalf("check other ip: %v", err)
	}
	if !result.Allowed {
		t.Fatal("unblocked ip should pass")
	}

	if err := svc.UnblockIP(ctx, testIP); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	result, err = svc.CheckRateLimit(ctx, "user-1", "messages:send", testIP, testUA)
	if err != nil {
		t.Fatalf("check after unblock: %v", err)
	}
	if !result.Allowed {
		t.Fatal("unblock should lift the denial")
	}

	blocks, err := events.CountByUserAndType("", domain.EventIPBlocked, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count ip block events: %v", err)
	}
	if blocks != 1 {
		t.Fatalf("expected 1 IP_BLOCKED event, got %d", blocks)
	}
}

func TestRateLimitDenialIsAudited(t *testing.T) {
	db := newTestDB(t)
	events := repository.NewAuditRepository(db)
	rules := map[string]RateLimitRule{"test:op": {MaxRequests: 1, Window: time.Minute}}
	svc := NewRateLimitService(NewInMemoryWindowStore(), NewAuditService(
		repository.NewAuditRepository(db), repository.NewAlertRepository(db), nil, 0, 0,
	), rules, RateLimitRule{})
	ctx := context.Background()

	if _, err := svc.CheckRateLimit(ctx, "user-1", "test:op", testIP, testUA); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.CheckRateLimit(ctx, "user-1", "test:op", testIP, testUA); err != nil {
		t.Fatalf("second: %v", err)
	}
	count, err := events.CountByUserAndType("user-1", domain.EventRateLimitExceeded, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 RATE_LIMIT_EXCEEDED event, got %d", count)
	}
}

func TestRedisWindowStoreFixedWindow(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisWindowStore(client, "test:ratelimit")
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		count, _, err := store.Increment(ctx, "user-1", "op", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if count != want {
			t.Fatalf("count %d, want %d", count, want)
		}
	}
	// Window expiry resets the counter.
	server.FastForward(2 * time.Minute)
	count, _, err := store.Increment(ctx, "user-1", "op", time.Minute)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired window should restart at 1, got %d", count)
	}
}

func TestRedisWindowStoreBlocks(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisWindowStore(client, "test:ratelimit")
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	if err := store.Block(ctx, IPKey(testIP), GlobalBlockEndpoint, until); err != nil {
		t.Fatalf("block: %v", err)
	}
	got, blocked, err := store.BlockedUntil(ctx, IPKey(testIP), GlobalBlockEndpoint)
	if err != nil {
		t.Fatalf("blocked until: %v", err)
	}
	if !blocked {
		t.Fatal("expected active block")
	}
	if got.Sub(until).Abs() > time.Second {
		t.Fatalf("block deadline drifted: got %v, want %v", got, until)
	}

	if err := store.Unblock(ctx, IPKey(testIP), GlobalBlockEndpoint); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	_, blocked, err = store.BlockedUntil(ctx, IPKey(testIP), GlobalBlockEndpoint)
	if err != nil {
		t.Fatalf("blocked until after unblock: %v", err)
	}
	if blocked {
		t.Fatal("unblock should clear the block")
	}

	// Blocks expire lazily with their key TTL.
	if err := store.Block(ctx, IPKey(otherIP), GlobalBlockEndpoint, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("short block: %v", err)
	}
	server.FastForward(2 * time.Second)
	_, blocked, err = store.BlockedUntil(ctx, IPKey(otherIP), GlobalBlockEndpoint)
	if err != nil {
		t.Fatalf("blocked until after ttl: %v", err)
	}
	if blocked {
		t.Fatal("expired block should read as absent")
	}
}

func TestInMemoryWindowStoreBlockExpiry(t *testing.T) {
	store := NewInMemoryWindowStore()
	ctx := context.Background()

	if err := store.Block(ctx, "user-1", "op", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, blocked, err := store.BlockedUntil(ctx, "user-1", "op")
	if err != nil {
		t.Fatalf("blocked until: %v", err)
	}
	if blocked {
		t.Fatal("a block in the past must read as absent")
	}
}
