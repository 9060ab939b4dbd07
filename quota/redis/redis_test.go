//go:build integration

package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	quotaredis "github.com/CloudCompile/cloudgptapi-sub000/quota/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *quotaredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := quotaredis.New(client, quotaredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestHitUntilLimit(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := store.Hit(ctx, "ip:1.2.3.4", 3, cloudgpt.MinuteWindow)
		if err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d: expected allowed", i)
		}
		if res.Remaining != int64(2-i) {
			t.Fatalf("hit %d: expected remaining=%d, got %d", i, 2-i, res.Remaining)
		}
	}

	res, err := store.Hit(ctx, "ip:1.2.3.4", 3, cloudgpt.MinuteWindow)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected fourth hit to be denied")
	}
	if time.Until(res.ResetAt) > time.Minute || time.Until(res.ResetAt) <= 0 {
		t.Fatalf("unexpected reset time %v", res.ResetAt)
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	if _, err := store.Hit(ctx, "k", 5, cloudgpt.DailyWindow); err != nil {
		t.Fatalf("hit: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := store.Peek(ctx, "k", 5, cloudgpt.DailyWindow)
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if res.Remaining != 4 {
			t.Fatalf("expected remaining=4, got %d", res.Remaining)
		}
	}
}

func TestPeekMissingBucket(t *testing.T) {
	store := newTestStore(t, newTestClient(t))

	res, err := store.Peek(context.Background(), "never-hit", 10, cloudgpt.MinuteWindow)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if res.Remaining != 10 || !res.Allowed {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConcurrentHits(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	const limit = 50
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Hit(ctx, "shared", limit, cloudgpt.MinuteWindow)
			if err != nil {
				t.Errorf("hit: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, allowed.Load())
	}
}
