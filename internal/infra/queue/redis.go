package queue

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

var _ domain.DeliveryQueue = (*RedisDeliveryQueue)(nil)

// RedisDeliveryQueue реализует очередь задач на базе Redis lists. Задача на
// время обработки переносится в список processing.
type RedisDeliveryQueue struct {
	client     *redis.Client
	key        string
	processing string
}

// NewRedisDeliveryQueue создаёт очередь по указанному ключу.
func NewRedisDeliveryQueue(client *redis.Client, key string) *RedisDeliveryQueue {
	return &RedisDeliveryQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis_queue", "push", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение удаляет её из
// processing, отказ возвращает в очередь.
func (q *RedisDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.DeliveryAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DeliveryJob{}, nil, err
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DeliveryJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DeliveryJob{}, nil, err
		}
		var job domain.DeliveryJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			bg := context.WithoutCancel(ctx)
			pipe := q.client.TxPipeline()
			pipe.LRem(bg, q.processing, 1, raw)
			if !success {
				pipe.RPush(bg, q.key, raw)
			}
			_, err := pipe.Exec(bg)
			return err
		}
		return job, ack, nil
	}
}
