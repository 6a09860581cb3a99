package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const popTimeout = 5 * time.Second

// RedisQueue is a list-backed queue shared by every replica.
type RedisQueue struct {
	client *redis.Client
	key    string
	closed atomic.Bool
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	const op = "queue.RedisQueue.Enqueue"

	if q.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	const op = "queue.RedisQueue.Dequeue"

	for {
		if q.closed.Load() {
			return Task{}, ErrClosed
		}

		res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("%s: %w", op, err)
		}

		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}

		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return Task{}, fmt.Errorf("%s: decode task: %w", op, err)
		}

		return t, nil
	}
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
