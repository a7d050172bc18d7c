package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"wa-scheduler/internal/adapters/filestore"
	"wa-scheduler/internal/adapters/storeclient"
	"wa-scheduler/internal/infra/cache"
	"wa-scheduler/internal/infra/config"
)

func TestOpenDrivers(t *testing.T) {
	var cfg config.AppConfig
	cfg.Store.Driver = "file"
	cfg.Store.Dir = t.TempDir()
	b, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer b.Close()
	if _, ok := b.Schedules.(*filestore.Store); !ok {
		t.Fatalf("expected filestore, got %T", b.Schedules)
	}
	if _, ok := b.Lock.(*cache.MemoryCache); !ok {
		t.Fatalf("без REDIS_ADDR ожидали память, got %T", b.Lock)
	}

	cfg.Store.Driver = "http"
	cfg.Store.URL = "http://localhost:8000"
	b, err = Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := b.Groups.(*storeclient.Client); !ok {
		t.Fatalf("expected storeclient, got %T", b.Groups)
	}
}

func TestOpenRejectsUnknown(t *testing.T) {
	var cfg config.AppConfig
	cfg.Store.Driver = "mongo"
	if _, err := Open(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("ожидали ошибку для неизвестного драйвера")
	}
	cfg.Store.Driver = "redis"
	if _, err := Open(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("redis без адреса должен давать ошибку")
	}
}
