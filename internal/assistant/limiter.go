package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter блокирует вызывающего, пока не истечёт минимальный интервал между запросами к LLM
type Limiter interface {
	Wait(ctx context.Context) error
}

// LocalLimiter: token bucket с burst 1, общий для всех запросов процесса
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter(interval time.Duration) *LocalLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &LocalLimiter{limiter: rate.NewLimiter(limit, 1)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Интервал опроса, если ключ исчез между SET NX и PTTL
const redisPollInterval = 10 * time.Millisecond

// RedisLimiter разделяет интервал между экземплярами через SET NX PX
type RedisLimiter struct {
	client   *redis.Client
	key      string
	interval time.Duration
}

func NewRedisLimiter(client *redis.Client, key string, interval time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, key: key, interval: interval}
}

func (l *RedisLimiter) Wait(ctx context.Context) error {
	if l.interval < time.Millisecond {
		return nil
	}

	for {
		acquired, err := l.client.SetNX(ctx, l.key, time.Now().UnixNano(), l.interval).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire llm rate slot: %w", err)
		}
		if acquired {
			return nil
		}

		ttl, err := l.client.PTTL(ctx, l.key).Result()
		if err != nil {
			return fmt.Errorf("failed to read llm rate slot ttl: %w", err)
		}
		if ttl <= 0 {
			ttl = redisPollInterval
		}

		timer := time.NewTimer(ttl)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
