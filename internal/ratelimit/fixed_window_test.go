package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewFixedWindow(client, "test", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	fixed := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l, redisSrv
}

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d rejected, want allowed", i)
		}
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request over limit allowed")
	}

	// Other keys have their own budget.
	if ok, _ := l.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("independent key rejected")
	}
}

func TestFixedWindowResetsNextWindow(t *testing.T) {
	l, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("first request rejected")
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("second request allowed in same window")
	}

	next := l.now().Add(time.Minute)
	l.now = func() time.Time { return next }
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("request in next window rejected")
	}
}

func TestFixedWindowSetsExpiry(t *testing.T) {
	l, redisSrv := newTestLimiter(t, 5)
	if _, err := l.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	keys := redisSrv.Keys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want one", keys)
	}
	if ttl := redisSrv.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v, want (0, 1m]", ttl)
	}
}

func TestFixedWindowRedisDown(t *testing.T) {
	l, redisSrv := newTestLimiter(t, 5)
	redisSrv.Close()

	ok, err := l.Allow(context.Background(), "k")
	if err == nil || ok {
		t.Fatalf("allow = %v, %v; want false with error", ok, err)
	}
}

func TestNewFixedWindowValidation(t *testing.T) {
	if _, err := NewFixedWindow(nil, "", 1, time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindow(client, "", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero limit")
	}
	l, err := NewFixedWindow(client, " ", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if l.prefix != defaultPrefix {
		t.Fatalf("prefix = %q, want %q", l.prefix, defaultPrefix)
	}
}
