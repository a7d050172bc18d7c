package domain

import (
	"context"
	"time"
)

// ScheduleStore — каноническое хранилище списка расписаний. Список
// читается и заменяется только целиком.
type ScheduleStore interface {
	Fetch(ctx context.Context) ([]Entry, error)
	Replace(ctx context.Context, entries []Entry) error
}

// FinishedStore хранит архив отправленных записей.
type FinishedStore interface {
	ListFinished(ctx context.Context) ([]Entry, error)
	AppendFinished(ctx context.Context, e Entry) error
	DeleteFinished(ctx context.Context, index int) error
	ClearFinished(ctx context.Context) error
}

// GroupRepo хранит сохранённые имена групп.
type GroupRepo interface {
	ListGroups(ctx context.Context) ([]string, error)
	// AddGroup возвращает ErrGroupExists, если имя уже сохранено.
	AddGroup(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, name string) error
}

// Sender отправляет запись получателю.
type Sender interface {
	Send(ctx context.Context, e Entry) error
}

// DeliveryOutcome описывает результат попытки отправки.
type DeliveryOutcome struct {
	Entry    Entry
	Err      error
	Duration time.Duration
}

// Notifier сообщает оператору о результатах отправки.
type Notifier interface {
	NotifyDelivery(ctx context.Context, outcome DeliveryOutcome) error
}

// Cache используется для простых TTL-хранилищ и блокировок.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
