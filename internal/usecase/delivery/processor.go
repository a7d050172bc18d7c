package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

// Lister возвращает канонический список расписаний.
type Lister interface {
	List(ctx context.Context) ([]domain.Entry, error)
}

// Marker переводит запись в done.
type Marker interface {
	MarkDone(ctx context.Context, target domain.Entry, at time.Time) (domain.Entry, error)
}

// Dispatcher передаёт наступившую запись на отправку.
type Dispatcher interface {
	Dispatch(ctx context.Context, e domain.Entry) error
}

var (
	_ Dispatcher = (*Processor)(nil)
	_ Dispatcher = (*QueueDispatcher)(nil)
)

// Processor отправляет запись, отмечает её выполненной, архивирует и
// уведомляет оператора.
type Processor struct {
	sender   domain.Sender
	marker   Marker
	finished domain.FinishedStore
	notifier domain.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewProcessor создаёт обработчик. finished и notifier могут быть nil.
func NewProcessor(sender domain.Sender, marker Marker, finished domain.FinishedStore, notifier domain.Notifier, logger zerolog.Logger) *Processor {
	return &Processor{
		sender:   sender,
		marker:   marker,
		finished: finished,
		notifier: notifier,
		log:      logger.With().Str("component", "delivery").Logger(),
		now:      time.Now,
	}
}

// Dispatch отправляет запись сразу.
func (p *Processor) Dispatch(ctx context.Context, e domain.Entry) error {
	return p.Process(ctx, e)
}

// Process выполняет отправку. Ошибка возвращается только если сообщение не
// ушло: после успешной отправки сбои отметки и архива только логируются,
// чтобы запись не отправилась повторно.
func (p *Processor) Process(ctx context.Context, e domain.Entry) error {
	entryLog := p.log.With().
		Str("id", e.ID).
		Str("group", e.RecipientGroup).
		Str("type", string(e.Kind)).
		Str("time", domain.FormatWallClock(e.ScheduledAt)).
		Logger()

	start := p.now()
	err := p.sender.Send(ctx, e)
	metrics.ObserveDelivery(string(e.Kind), e.ScheduledAt, err)
	if err != nil {
		entryLog.Error().Err(err).Msg("delivery: не удалось отправить")
		p.notify(ctx, domain.DeliveryOutcome{Entry: e, Err: err, Duration: p.now().Sub(start)})
		return fmt.Errorf("отправка %s: %w", e.RecipientGroup, err)
	}

	done, err := p.marker.MarkDone(ctx, e, p.now())
	switch {
	case errors.Is(err, domain.ErrEntryNotFound):
		entryLog.Warn().Msg("delivery: запись удалена до отметки, архивируем копию")
		done = e.Clone()
		done.MarkDone(p.now())
	case err != nil:
		entryLog.Error().Err(err).Msg("delivery: не удалось отметить запись выполненной")
		done = e.Clone()
		done.MarkDone(p.now())
	}

	if p.finished != nil {
		if err := p.finished.AppendFinished(ctx, done); err != nil {
			entryLog.Error().Err(err).Msg("delivery: не удалось сохранить в архив")
		}
	}
	entryLog.Info().Msg("delivery: отправлено")
	p.notify(ctx, domain.DeliveryOutcome{Entry: done, Duration: p.now().Sub(start)})
	return nil
}

func (p *Processor) notify(ctx context.Context, outcome domain.DeliveryOutcome) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyDelivery(ctx, outcome); err != nil {
		p.log.Warn().Err(err).Msg("delivery: не удалось уведомить оператора")
	}
}

// QueueDispatcher ставит запись в очередь для отдельного отправителя.
type QueueDispatcher struct {
	queue domain.DeliveryQueue
	newID func() string
	now   func() time.Time
}

// NewQueueDispatcher создаёт диспетчер поверх очереди.
func NewQueueDispatcher(queue domain.DeliveryQueue) *QueueDispatcher {
	return &QueueDispatcher{queue: queue, newID: uuid.NewString, now: time.Now}
}

// Dispatch публикует задачу на отправку.
func (d *QueueDispatcher) Dispatch(ctx context.Context, e domain.Entry) error {
	job := domain.DeliveryJob{ID: d.newID(), Entry: e, EnqueuedAt: d.now().UTC()}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка в очередь: %w", err)
	}
	return nil
}
