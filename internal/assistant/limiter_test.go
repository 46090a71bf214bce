package assistant_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/config"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestLocalLimiter_Interval проверяет, что второй вызов ждёт интервал, а не отбрасывается
func TestLocalLimiter_Interval(t *testing.T) {
	limiter := assistant.NewLocalLimiter(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLocalLimiter_Cancelled(t *testing.T) {
	limiter := assistant.NewLocalLimiter(time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx))
}

func TestLocalLimiter_Disabled(t *testing.T) {
	limiter := assistant.NewLocalLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}
}

func TestIntegration_RedisLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := repository.NewRedisClient(ctx, config.RedisConfig{Host: host, Port: port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// два экземпляра делят один ключ
	first := assistant.NewRedisLimiter(client, "test:llm", 200*time.Millisecond)
	second := assistant.NewRedisLimiter(client, "test:llm", 200*time.Millisecond)

	start := time.Now()
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, first.Wait(cancelled), context.DeadlineExceeded)
}
