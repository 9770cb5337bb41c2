package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if _, err := mc.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	value := []byte(`{"metrics":{}}`)
	if err := mc.Set(ctx, "k", value, time.Minute); err != nil {
		t.Fatal(err)
	}
	value[0] = 'x'
	got, err := mc.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"metrics":{}}` {
		t.Fatalf("cached value was aliased: %s", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := mc.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired miss, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMaxSize(2))
	defer mc.Close()

	mc.Set(ctx, "a", []byte("1"), time.Minute)
	time.Sleep(time.Millisecond)
	mc.Set(ctx, "b", []byte("2"), time.Minute)
	time.Sleep(time.Millisecond)
	if _, err := mc.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	mc.Set(ctx, "c", []byte("3"), time.Minute)

	if mc.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mc.Len())
	}
	if _, err := mc.Get(ctx, "b"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should have been evicted, got %v", err)
	}
}

func TestNop(t *testing.T) {
	var s Service = Nop{}
	s.Set(context.Background(), "k", []byte("v"), 0)
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestRedisWrapKey(t *testing.T) {
	c := NewRedisCacheFromClient(nil, "sandbox")
	if got := c.wrapKey("abc"); got != "sandbox:abc" {
		t.Fatalf("got %s", got)
	}
	if got := (&RedisCache{}).wrapKey("abc"); got != "abc" {
		t.Fatalf("got %s", got)
	}
}
