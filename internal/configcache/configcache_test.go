package configcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, 50*time.Millisecond), mr
}

func TestGet_CallsLoaderOnMiss(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0

	val, err := c.Get(context.Background(), "worker.pause", func(ctx context.Context) (string, error) {
		calls++
		return "false", nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "false" {
		t.Errorf("val = %q, want false", val)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGet_ServesFromCacheOnSecondCall(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0

	load := func(ctx context.Context) (string, error) {
		calls++
		return "true", nil
	}

	c.Get(context.Background(), "worker.stop", load)
	c.Get(context.Background(), "worker.stop", load)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second Get should hit cache)", calls)
	}
}

func TestGet_ReloadsAfterTTLExpires(t *testing.T) {
	c, mr := newTestCache(t)
	calls := 0

	load := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}

	c.Get(context.Background(), "k", load)
	mr.FastForward(100 * time.Millisecond)
	c.Get(context.Background(), "k", load)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 after TTL expiry", calls)
	}
}

func TestGet_FallsBackWhenRedisUnavailable(t *testing.T) {
	c := New(nil, 0)
	calls := 0

	val, err := c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		return "always-fresh", nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "always-fresh" {
		t.Errorf("val = %q", val)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestGet_PropagatesLoaderError(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "", errors.New("upstream unavailable")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestGet_CollapsesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	var calls int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "hot-key", func(ctx context.Context) (string, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "v", nil
			})
		}()
	}
	wg.Wait()

	if calls > 5 {
		t.Errorf("calls = %d, expected singleflight to collapse most concurrent misses", calls)
	}
}

func TestInvalidate_RemovesCachedValue(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0

	load := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}

	c.Get(context.Background(), "k", load)
	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	c.Get(context.Background(), "k", load)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 after invalidate", calls)
	}
}
