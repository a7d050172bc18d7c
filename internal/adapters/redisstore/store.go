package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

var (
	_ domain.ScheduleStore = (*Store)(nil)
	_ domain.FinishedStore = (*Store)(nil)
	_ domain.GroupRepo     = (*Store)(nil)
)

const tombstone = "__deleted__"

// Store хранит список расписаний одной строкой JSON, архив — списком,
// группы — списком с проверкой в транзакции WATCH.
type Store struct {
	client    *redis.Client
	schedules string
	finished  string
	groups    string
}

// New создаёт хранилище с префиксом ключей.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "wa"
	}
	return &Store{
		client:    client,
		schedules: prefix + ":schedules",
		finished:  prefix + ":finished",
		groups:    prefix + ":groups",
	}
}

// Fetch читает канонический список.
func (s *Store) Fetch(ctx context.Context) ([]domain.Entry, error) {
	start := time.Now()
	data, err := s.client.Get(ctx, s.schedules).Bytes()
	if errors.Is(err, redis.Nil) {
		err = nil
		data = nil
	}
	metrics.ObserveNetworkRequest("redis", "get", s.schedules, start, err)
	if err != nil {
		return nil, err
	}
	entries := []domain.Entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", s.schedules, err)
	}
	return entries, nil
}

// Replace перезаписывает список одной командой SET.
func (s *Store) Replace(ctx context.Context, entries []domain.Entry) error {
	if entries == nil {
		entries = []domain.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("кодирование списка: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, s.schedules, data, 0).Err()
	metrics.ObserveNetworkRequest("redis", "set", s.schedules, start, err)
	return err
}

// ListFinished возвращает архив.
func (s *Store) ListFinished(ctx context.Context) ([]domain.Entry, error) {
	start := time.Now()
	raw, err := s.client.LRange(ctx, s.finished, 0, -1).Result()
	metrics.ObserveNetworkRequest("redis", "lrange", s.finished, start, err)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.Entry, 0, len(raw))
	for i, item := range raw {
		var e domain.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("разбор архива #%d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AppendFinished добавляет запись в архив.
func (s *Store) AppendFinished(ctx context.Context, e domain.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("кодирование записи: %w", err)
	}
	start := time.Now()
	err = s.client.RPush(ctx, s.finished, data).Err()
	metrics.ObserveNetworkRequest("redis", "rpush", s.finished, start, err)
	return err
}

// DeleteFinished удаляет запись архива по позиции.
func (s *Store) DeleteFinished(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
	}
	start := time.Now()
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, s.finished).Result()
		if err != nil {
			return err
		}
		if int64(index) >= n {
			return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, s.finished, int64(index), tombstone)
			pipe.LRem(ctx, s.finished, 1, tombstone)
			return nil
		})
		return err
	}, s.finished)
	metrics.ObserveNetworkRequest("redis", "finished_delete", s.finished, start, err)
	return err
}

// ClearFinished очищает архив.
func (s *Store) ClearFinished(ctx context.Context) error {
	return s.client.Del(ctx, s.finished).Err()
}

// ListGroups возвращает группы.
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	names, err := s.client.LRange(ctx, s.groups, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// AddGroup сохраняет группу.
func (s *Store) AddGroup(ctx context.Context, name string) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.LPos(ctx, s.groups, name, redis.LPosArgs{}).Result()
		switch {
		case err == nil:
			return domain.ErrGroupExists
		case !errors.Is(err, redis.Nil):
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.groups, name)
			return nil
		})
		return err
	}, s.groups)
}

// DeleteGroup удаляет группу.
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	n, err := s.client.LRem(ctx, s.groups, 1, name).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}
