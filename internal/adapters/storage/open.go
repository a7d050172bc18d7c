package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/adapters/filestore"
	"wa-scheduler/internal/adapters/redisstore"
	"wa-scheduler/internal/adapters/repo"
	"wa-scheduler/internal/adapters/storeclient"
	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/cache"
	"wa-scheduler/internal/infra/config"
	"wa-scheduler/internal/infra/db"
)

// Backend объединяет хранилища выбранного драйвера.
type Backend struct {
	Schedules domain.ScheduleStore
	Finished  domain.FinishedStore
	Groups    domain.GroupRepo
	// Lock — блокировки движка доставки: Redis, если он настроен, иначе память.
	Lock domain.Cache
	// Redis — общий клиент, если REDIS_ADDR задан.
	Redis *redis.Client

	pool *pgxpool.Pool
}

// Open подключает хранилище по STORE_DRIVER.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Backend, error) {
	b := &Backend{}
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = client
		b.Lock = cache.NewRedis(client, cfg.Store.Prefix)
	} else {
		b.Lock = cache.NewMemory()
	}

	switch cfg.Store.Driver {
	case "file", "":
		store, err := filestore.New(cfg.Store.Dir)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.use(store, store, store)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.pool = pool
		store := repo.NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		b.use(store, store, store)
	case "redis":
		if b.Redis == nil {
			return nil, fmt.Errorf("STORE_DRIVER=redis требует REDIS_ADDR")
		}
		store := redisstore.New(b.Redis, cfg.Store.Prefix)
		b.use(store, store, store)
	case "http":
		client, err := storeclient.New(cfg.Store.URL, storeclient.WithTimeout(cfg.Store.Timeout), storeclient.WithToken(cfg.APIToken))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.use(client, client, client)
	default:
		b.Close()
		return nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.Store.Driver)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Bool("redis", b.Redis != nil).Msg("storage: хранилище подключено")
	return b, nil
}

func (b *Backend) use(s domain.ScheduleStore, f domain.FinishedStore, g domain.GroupRepo) {
	b.Schedules, b.Finished, b.Groups = s, f, g
}

// Close закрывает подключения.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}
