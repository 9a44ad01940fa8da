package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "lab_test:LT001", []byte(`{"id":"LT001"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "lab_test:LT001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"id":"LT001"}` {
		t.Errorf("unexpected value %s", got)
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache()
	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 5*time.Minute)

	now = now.Add(4 * time.Minute)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("expected hit before expiry, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be dropped, have %d entries", c.Len())
	}
}

func TestMemoryCache_NoTTL(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(24 * time.Hour)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("entry without ttl should not expire: %v", err)
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	if err := c.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, have %d entries", c.Len())
	}
}

func TestMemoryCache_ReturnsCopy(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("abc"), time.Minute)

	got, _ := c.Get(ctx, "k")
	got[0] = 'z'

	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("cached value was mutated through returned slice: %s", again)
	}
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not-a-redis-url", "lab:")
	if err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}
