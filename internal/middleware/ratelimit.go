package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig конфигурация rate limiter
type RateLimiterConfig struct {
	RequestsPerSecond float64       // Количество запросов в секунду
	BurstSize         int           // Максимальный размер burst
	CleanupInterval   time.Duration // Как часто удалять неактивных посетителей
}

// visitor представляет rate limiter для одного клиента
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает запросы по IP алгоритмом Token Bucket
type RateLimiter struct {
	config      RateLimiterConfig
	visitors    map[string]*visitor // IP -> visitor
	lastCleanup time.Time
	mu          sync.Mutex
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	return &RateLimiter{
		config:      config,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

// getLimiter возвращает или создаёт limiter для ip; очистка выполняется попутно, без фоновой горутины
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.config.CleanupInterval {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.config.CleanupInterval*3 {
				delete(rl.visitors, key)
			}
		}
		rl.lastCleanup = now
	}

	if v, exists := rl.visitors[ip]; exists {
		v.lastSeen = now
		return v.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
	rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

// Visitors возвращает число отслеживаемых клиентов
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			retryAfter := int(math.Ceil(1 / rl.config.RequestsPerSecond))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests, please try again later",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
