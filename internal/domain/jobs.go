package domain

import (
	"context"
	"time"
)

// DeliveryJob содержит запись, которую нужно отправить.
type DeliveryJob struct {
	ID         string    `json:"job_id,omitempty"`
	Entry      Entry     `json:"entry"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeliveryQueue описывает очередь задач на отправку.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	Receive(ctx context.Context) (DeliveryJob, DeliveryAckFunc, error)
}

// DeliveryAckFunc подтверждает обработку или возвращает задачу в очередь.
type DeliveryAckFunc func(success bool) error
