package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
	"wa-scheduler/internal/usecase/batch"
	"wa-scheduler/internal/usecase/conflict"
)

// Policy задаёт пороги и режимы синхронизации.
type Policy struct {
	// CreateThreshold — минимальный интервал для новых записей.
	CreateThreshold time.Duration
	// EditThreshold — минимальный интервал при редактировании.
	EditThreshold time.Duration
	// CrossCheckBatch включает проверку пакета против существующих записей.
	CrossCheckBatch bool
	// Rebase перечитывает список перед заменой и при изменениях применяет
	// операцию к свежей версии.
	Rebase bool
}

// DefaultPolicy возвращает значения по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		CreateThreshold: time.Minute,
		EditThreshold:   2 * time.Minute,
		CrossCheckBatch: true,
		Rebase:          true,
	}
}

var errUnchanged = errors.New("список не изменился")

// Service синхронизирует рабочий список с каноническим хранилищем:
// чтение, изменение, замена целиком.
type Service struct {
	store    domain.ScheduleStore
	expander *batch.Expander
	policy   Policy
	logger   zerolog.Logger
	newID    func() string
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock задаёт источник времени.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithIDs задаёт генератор идентификаторов.
func WithIDs(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService создаёт сервис.
func NewService(store domain.ScheduleStore, policy Policy, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		policy: policy,
		logger: logger.With().Str("component", "schedule").Logger(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.expander = batch.NewExpander(batch.WithIDs(s.newID), batch.WithClock(s.now))
	return s
}

// Policy возвращает текущие пороги.
func (s *Service) Policy() Policy { return s.policy }

// List возвращает канонический список, упорядоченный по времени.
func (s *Service) List(ctx context.Context) ([]domain.Entry, error) {
	start := time.Now()
	entries, err := s.store.Fetch(ctx)
	metrics.ObserveSyncOperation("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение расписаний: %w", err)
	}
	domain.SortByTime(entries)
	return entries, nil
}

// Create добавляет запись. При нескольких получателях строится пакет со
// сдвигом в минуту. Если recipients пуст, используется draft.RecipientGroup.
func (s *Service) Create(ctx context.Context, kind domain.Kind, draft domain.Draft, recipients []string, at time.Time) ([]domain.Entry, error) {
	draft.ScheduledAt = at
	candidates, err := s.candidates(kind, draft, recipients)
	if err != nil {
		return nil, err
	}

	// Секунды, отброшенные при нормализации, нужны для расчёта дефицита.
	offset := at.Sub(domain.TruncateMinute(at))
	err = s.mutate(ctx, "create", func(list []domain.Entry) ([]domain.Entry, error) {
		if len(candidates) == 1 || s.policy.CrossCheckBatch {
			for _, c := range candidates {
				verdict := conflict.Validate(c.ScheduledAt.Add(offset), list, s.policy.CreateThreshold)
				if !verdict.Admit {
					metrics.ObserveConflict("create")
					return nil, verdict.Err()
				}
			}
		}
		return append(list, domain.CloneEntries(candidates)...), nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (s *Service) candidates(kind domain.Kind, draft domain.Draft, recipients []string) ([]domain.Entry, error) {
	names := recipients
	if len(names) == 0 {
		names = []string{draft.RecipientGroup}
	}
	if len(names) > 1 {
		return s.expander.Expand(draft, kind, names, draft.ScheduledAt)
	}
	draft.RecipientGroup = strings.TrimSpace(names[0])
	e, err := domain.NewEntry(kind, draft)
	if err != nil {
		return nil, err
	}
	e.ID = s.newID()
	e.CreatedAt = s.now().Truncate(time.Second)
	return []domain.Entry{e}, nil
}

// Edit заменяет поля найденной записи. Статус, ID, пакет и время создания
// сохраняются. Новое время проверяется против остальных записей.
func (s *Service) Edit(ctx context.Context, target, updated domain.Entry) (domain.Entry, error) {
	if err := updated.Validate(); err != nil {
		return domain.Entry{}, err
	}
	var result domain.Entry
	err := s.mutate(ctx, "edit", func(list []domain.Entry) ([]domain.Entry, error) {
		idx := Locate(list, target)
		if idx < 0 {
			return nil, domain.ErrEntryNotFound
		}
		verdict := conflict.ValidateExcept(updated.ScheduledAt, list, s.policy.EditThreshold, func(i int, _ domain.Entry) bool {
			return i == idx
		})
		if !verdict.Admit {
			metrics.ObserveConflict("edit")
			return nil, verdict.Err()
		}
		current := list[idx]
		next := domain.BuildEntry(updated.Kind, updated.Draft())
		next.ID = current.ID
		next.BatchID = current.BatchID
		next.Status = current.Status
		next.CompletedAt = current.CompletedAt
		next.CreatedAt = current.CreatedAt
		next.Extra = current.Extra
		if next.ID == "" {
			next.ID = s.newID()
		}
		list[idx] = next
		result = next
		return list, nil
	})
	if err != nil {
		return domain.Entry{}, err
	}
	return result, nil
}

// Delete удаляет запись по позиции в упорядоченном по времени списке.
func (s *Service) Delete(ctx context.Context, index int) (domain.Entry, error) {
	var (
		victim   domain.Entry
		resolved bool
	)
	err := s.mutate(ctx, "delete", func(list []domain.Entry) ([]domain.Entry, error) {
		if !resolved {
			sorted := domain.CloneEntries(list)
			domain.SortByTime(sorted)
			if index < 0 || index >= len(sorted) {
				return nil, fmt.Errorf("%w: %d из %d", domain.ErrIndexOutOfRange, index, len(sorted))
			}
			victim = sorted[index]
			resolved = true
		}
		idx := Locate(list, victim)
		if idx < 0 {
			return nil, domain.ErrEntryNotFound
		}
		return append(list[:idx], list[idx+1:]...), nil
	})
	if err != nil {
		return domain.Entry{}, err
	}
	return victim, nil
}

// MarkDone переводит запись в done. Повторный вызов не меняет completedAt
// и не пишет в хранилище.
func (s *Service) MarkDone(ctx context.Context, target domain.Entry, at time.Time) (domain.Entry, error) {
	var result domain.Entry
	err := s.mutate(ctx, "mark_done", func(list []domain.Entry) ([]domain.Entry, error) {
		idx := Locate(list, target)
		if idx < 0 {
			return nil, domain.ErrEntryNotFound
		}
		changed := list[idx].MarkDone(at)
		result = list[idx]
		if !changed {
			return nil, errUnchanged
		}
		return list, nil
	})
	if errors.Is(err, errUnchanged) {
		return result, nil
	}
	if err != nil {
		return domain.Entry{}, err
	}
	return result, nil
}

// mutate выполняет цикл чтение → изменение → замена. Ошибка apply
// прерывает операцию до записи.
func (s *Service) mutate(ctx context.Context, op string, apply func([]domain.Entry) ([]domain.Entry, error)) (err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, errUnchanged) {
			metrics.ObserveSyncOperation(op, start, nil)
			return
		}
		metrics.ObserveSyncOperation(op, start, err)
	}()

	snapshot, err := s.store.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("получение расписаний: %w", err)
	}
	next, err := apply(domain.CloneEntries(snapshot))
	if err != nil {
		return err
	}

	if s.policy.Rebase {
		fresh, err := s.store.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("повторное получение расписаний: %w", err)
		}
		if !sameList(snapshot, fresh) {
			s.logger.Warn().Str("operation", op).Int("before", len(snapshot)).Int("after", len(fresh)).
				Msg("schedule: список изменился до замены, операция применена к свежей версии")
			next, err = apply(domain.CloneEntries(fresh))
			if err != nil {
				return fmt.Errorf("повторное применение %s: %w", op, err)
			}
		}
	}

	for i := range next {
		if next[i].ID == "" {
			next[i].ID = s.newID()
		}
	}
	if err := s.store.Replace(ctx, next); err != nil {
		return fmt.Errorf("замена расписаний: %w", err)
	}
	return nil
}

func sameList(a, b []domain.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
