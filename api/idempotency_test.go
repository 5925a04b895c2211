package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, ttl), m, client
}

func TestRedisDeduperAddTwice(t *testing.T) {
	deduper, _, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "owner-1", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatalf("expected first add to record the key")
	}
	added, err = deduper.Add(ctx, "owner-1", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatalf("expected second add to report a duplicate")
	}

	// same key under another owner is independent
	added, err = deduper.Add(ctx, "owner-2", "k1")
	if err != nil {
		t.Fatalf("other owner add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be scoped per owner")
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	deduper, m, client := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "owner", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	expectedKey := "dashboard:idempotency:owner:k1"
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
	if ttl := m.TTL(expectedKey); ttl != time.Minute {
		t.Fatalf("expected ttl of one minute, got %v", ttl)
	}
}

func TestRedisDeduperRemoveAllowsRetry(t *testing.T) {
	deduper, _, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "owner", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "owner", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := deduper.Add(ctx, "owner", "k1")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be recordable again after remove")
	}
}

func TestRedisDeduperExpiry(t *testing.T) {
	deduper, m, _ := newTestDeduper(t, time.Second)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "owner", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.FastForward(2 * time.Second)
	added, err := deduper.Add(ctx, "owner", "k1")
	if err != nil {
		t.Fatalf("add after expiry: %v", err)
	}
	if !added {
		t.Fatalf("expected expired key to be recordable again")
	}
}
