package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func TestAllowWithinLimit(t *testing.T) {
	l := setupTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}
	id := uuid.New().String()

	for i := 0; i < rule.Limit; i++ {
		ok, err := l.Allow(ctx, id, rule)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d was limited, want allowed", i+1)
		}
	}
}

func TestAllowOverLimit(t *testing.T) {
	l := setupTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 2, Window: 10 * time.Second}
	id := uuid.New().String()

	for i := 0; i < rule.Limit; i++ {
		if ok, _ := l.Allow(ctx, id, rule); !ok {
			t.Fatalf("request %d was limited, want allowed", i+1)
		}
	}

	ok, err := l.Allow(ctx, id, rule)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if ok {
		t.Fatal("request over the limit was allowed, want limited")
	}
}

func TestWindowExpiry(t *testing.T) {
	l := setupTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 1, Window: 1 * time.Second}
	id := uuid.New().String()

	if ok, _ := l.Allow(ctx, id, rule); !ok {
		t.Fatal("first request was limited")
	}
	if ok, _ := l.Allow(ctx, id, rule); ok {
		t.Fatal("second request in window was allowed")
	}

	time.Sleep(1100 * time.Millisecond)

	if ok, _ := l.Allow(ctx, id, rule); !ok {
		t.Fatal("request after window expiry was limited")
	}
}

func TestRemaining(t *testing.T) {
	l := setupTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 5, Window: 10 * time.Second}
	id := uuid.New().String()

	rem, err := l.Remaining(ctx, id, rule)
	if err != nil {
		t.Fatalf("Remaining returned error: %v", err)
	}
	if rem != 5 {
		t.Fatalf("fresh identifier remaining = %d, want 5", rem)
	}

	for i := 0; i < 3; i++ {
		l.Allow(ctx, id, rule)
	}

	rem, err = l.Remaining(ctx, id, rule)
	if err != nil {
		t.Fatalf("Remaining returned error: %v", err)
	}
	if rem != 2 {
		t.Fatalf("remaining after 3 requests = %d, want 2", rem)
	}
}

func TestIndependentIdentifiers(t *testing.T) {
	l := setupTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}
	a := fmt.Sprintf("a-%s", uuid.New())
	b := fmt.Sprintf("b-%s", uuid.New())

	if ok, _ := l.Allow(ctx, a, rule); !ok {
		t.Fatal("first request for a was limited")
	}
	if ok, _ := l.Allow(ctx, a, rule); ok {
		t.Fatal("second request for a was allowed")
	}
	if ok, _ := l.Allow(ctx, b, rule); !ok {
		t.Fatal("first request for b was limited by a's counter")
	}
}
