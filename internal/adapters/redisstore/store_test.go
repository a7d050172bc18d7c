package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"wa-scheduler/internal/domain"
)

// Тесты требуют живой Redis: REDIS_ADDR=localhost:6379 go test ./...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	prefix := "test-" + uuid.NewString()
	s := New(client, prefix)
	t.Cleanup(func() {
		_ = client.Del(context.Background(), s.schedules, s.finished, s.groups).Err()
	})
	return s
}

func TestRedisScheduleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got, err := s.Fetch(ctx); err != nil || len(got) != 0 {
		t.Fatalf("ожидали пустой список, got %v, %v", got, err)
	}
	entry := domain.Entry{ID: "a", Kind: domain.KindMessage, RecipientGroup: "Team", Text: "hi",
		ScheduledAt: time.Date(2025, 10, 30, 9, 0, 0, 0, domain.Location()), Status: domain.StatusPending}
	if err := s.Replace(ctx, []domain.Entry{entry}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.Fetch(ctx)
	if err != nil || len(got) != 1 || !got[0].Equal(entry) {
		t.Fatalf("unexpected %+v, %v", got, err)
	}
}

func TestRedisFinishedAndGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.AppendFinished(ctx, domain.Entry{ID: id, Kind: domain.KindMessage, Status: domain.StatusDone}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if err := s.DeleteFinished(ctx, 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.DeleteFinished(ctx, 3); !errors.Is(err, domain.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	list, _ := s.ListFinished(ctx)
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected finished %+v", list)
	}

	if err := s.AddGroup(ctx, "Team"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.AddGroup(ctx, "Team"); !errors.Is(err, domain.ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
	if err := s.DeleteGroup(ctx, "Nope"); !errors.Is(err, domain.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}
