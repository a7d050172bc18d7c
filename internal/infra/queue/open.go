package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"wa-scheduler/internal/domain"
)

// Open выбирает очередь доставки: redis или rabbitmq. Возвращает функцию
// закрытия подключения.
func Open(driver string, client *redis.Client, amqpURL, key string) (domain.DeliveryQueue, func() error, error) {
	switch driver {
	case "redis", "":
		if client == nil {
			return nil, nil, fmt.Errorf("QUEUE_DRIVER=redis требует REDIS_ADDR")
		}
		return NewRedisDeliveryQueue(client, key), func() error { return nil }, nil
	case "rabbitmq", "amqp":
		q, err := NewRabbitDeliveryQueue(amqpURL, key)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный QUEUE_DRIVER %q", driver)
	}
}
