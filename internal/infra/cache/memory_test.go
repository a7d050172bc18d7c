package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryOnce(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	calls := 0
	fn := func() error {
		calls++
		return nil
	}
	for i := 0; i < 3; i++ {
		if err := c.Once(ctx, "k", time.Minute, fn); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestMemoryOnceReleasesOnError(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")
	if err := c.Once(ctx, "k", time.Minute, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	ran := false
	_ = c.Once(ctx, "k", time.Minute, func() error { ran = true; return nil })
	if !ran {
		t.Fatalf("после ошибки ключ должен освобождаться")
	}
}

func TestMemoryTTL(t *testing.T) {
	c := NewMemory()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got, err := c.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}
