package repository

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient подключается к Redis, который хранит общий слот LLM лимитера.
// Запросы к нему короткие (SET NX / PTTL), поэтому пул маленький, а таймауты жёсткие.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		PoolSize:     4,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", client.Options().Addr, err)
	}

	return client, nil
}
