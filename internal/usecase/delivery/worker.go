package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"wa-scheduler/internal/domain"
)

// Worker читает задачи из очереди и отправляет их через Processor.
type Worker struct {
	queue     domain.DeliveryQueue
	processor *Processor
	log       zerolog.Logger
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.DeliveryQueue, processor *Processor, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, processor: processor, log: logger.With().Str("component", "sender").Logger()}
}

// Run обрабатывает задачи до отмены контекста. Неудачные отправки не
// повторяются: оператор уже уведомлён, запись остаётся pending.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("sender: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("entry_id", job.Entry.ID).
			Str("group", job.Entry.RecipientGroup).
			Logger()

		if err := w.processor.Process(ctx, job.Entry); err != nil {
			jobLog.Warn().Err(err).Msg("sender: задача завершилась ошибкой")
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("sender: не удалось подтвердить задачу")
		}
	}
}
