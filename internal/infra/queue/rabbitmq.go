package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

var _ domain.DeliveryQueue = (*RabbitDeliveryQueue)(nil)

// RabbitDeliveryQueue реализует очередь задач через AMQP с ручным подтверждением.
type RabbitDeliveryQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitDeliveryQueue подключается к брокеру и объявляет durable очередь.
func NewRabbitDeliveryQueue(amqpURL, queue string) (*RabbitDeliveryQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitDeliveryQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *RabbitDeliveryQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Receive ждёт следующую задачу.
func (q *RabbitDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.DeliveryAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.DeliveryJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.DeliveryJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.DeliveryJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		var job domain.DeliveryJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitDeliveryQueue) Close() error {
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return q.conn.Close()
}
