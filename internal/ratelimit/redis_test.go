package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), window)
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLimiter_CountsWithinWindow(t *testing.T) {
	l, mr := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Check(ctx, "id:alice", 3)
		if err != nil {
			t.Fatalf("Check() #%d error = %v", i, err)
		}
		if !res.Allowed || res.Remaining != 3-i || res.Limit != 3 {
			t.Errorf("Check() #%d = %+v, want allowed with %d remaining", i, res, 3-i)
		}
		if res.ResetIn <= 0 || res.ResetIn > time.Minute {
			t.Errorf("ResetIn = %v, want within the window", res.ResetIn)
		}
	}

	res, err := l.Check(ctx, "id:alice", 3)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("fourth Check() = %+v, want denied", res)
	}

	if ttl := mr.TTL("clawpay:rl:id:alice"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("key TTL = %v, want set once to the window", ttl)
	}
	if got, _ := mr.Get("clawpay:rl:id:alice"); got != "4" {
		t.Errorf("counter = %q, want 4", got)
	}
}

func TestRedisLimiter_WindowExpiryResets(t *testing.T) {
	l, mr := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.Check(ctx, "ip:10.0.0.1", 2)
	}
	if res, _ := l.Check(ctx, "ip:10.0.0.1", 2); res.Allowed {
		t.Fatal("third Check() allowed, want denied")
	}

	mr.FastForward(time.Minute + time.Second)
	res, err := l.Check(ctx, "ip:10.0.0.1", 2)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("Check() after window = %+v, want a fresh window", res)
	}
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	if res, _ := l.Check(ctx, "id:alice", 1); !res.Allowed {
		t.Fatal("alice denied on first request")
	}
	if res, _ := l.Check(ctx, "id:bob", 1); !res.Allowed {
		t.Error("bob denied because of alice's window")
	}
}

func TestRedisLimiter_RestoresMissingTTL(t *testing.T) {
	l, mr := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	// A counter left without an expiry must not block forever.
	mr.Set("clawpay:rl:id:stuck", "1")
	res, err := l.Check(ctx, "id:stuck", 5)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.ResetIn != time.Minute {
		t.Errorf("ResetIn = %v, want the full window", res.ResetIn)
	}
	if ttl := mr.TTL("clawpay:rl:id:stuck"); ttl <= 0 {
		t.Errorf("key TTL = %v, want restored", ttl)
	}
}

func TestRedisLimiter_UnavailableServerErrors(t *testing.T) {
	l, mr := newTestRedisLimiter(t, time.Minute)
	mr.Close()

	if _, err := l.Check(context.Background(), "id:alice", 5); err == nil {
		t.Fatal("Check() error = nil against a closed server")
	}
}
