package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// RateLimitConfig содержит настройки rate limiting
type RateLimitConfig struct {
	// MaxRequests - максимальное количество запросов за Window
	MaxRequests int
	// Window - временное окно для подсчёта запросов
	Window time.Duration
	// KeyPrefix - префикс для ключей в Redis
	KeyPrefix string
}

// AttemptWriteRateLimitConfig ограничивает запись ответов, закладок и навигацию
func AttemptWriteRateLimitConfig(perMinute int) RateLimitConfig {
	if perMinute <= 0 {
		perMinute = 120
	}
	return RateLimitConfig{
		MaxRequests: perMinute,
		Window:      1 * time.Minute,
		KeyPrefix:   "rl:attempt:write",
	}
}

// StartRateLimitConfig - строгий лимит на старт попыток
func StartRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 10,
		Window:      1 * time.Minute,
		KeyPrefix:   "rl:attempt:start",
	}
}

// RateLimiter создаёт middleware для rate limiting на основе Redis
type RateLimiter struct {
	redisClient redis.UniversalClient
	prefix      string
}

// NewRateLimiter создает новый RateLimiter. prefix - общий префикс ключей сервиса.
func NewRateLimiter(redisClient redis.UniversalClient, prefix string) *RateLimiter {
	return &RateLimiter{redisClient: redisClient, prefix: prefix}
}

// Limit возвращает Gin middleware с заданной конфигурацией.
// Ключ формируется из пользователя (или IP для анонимных) и шаблона маршрута.
func (rl *RateLimiter) Limit(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // Gin route pattern, e.g. "/api/attempts/:attemptId/answers/:questionId"
		if path == "" {
			path = c.Request.URL.Path
		}
		rl.check(c, cfg, fmt.Sprintf("%s:%s:%s", cfg.KeyPrefix, clientKey(c), path))
	}
}

// LimitByIP ограничивает количество запросов по IP (без привязки к path)
func (rl *RateLimiter) LimitByIP(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		rl.check(c, cfg, fmt.Sprintf("%s:ip:%s", cfg.KeyPrefix, c.ClientIP()))
	}
}

func clientKey(c *gin.Context) string {
	if userID, ok := c.Get("user_id"); ok {
		return fmt.Sprintf("user:%v", userID)
	}
	return "ip:" + c.ClientIP()
}

// key добавляет префикс сервиса, тот же что у кеша
func (rl *RateLimiter) key(k string) string {
	if rl.prefix == "" {
		return k
	}
	return rl.prefix + ":" + k
}

func (rl *RateLimiter) check(c *gin.Context, cfg RateLimitConfig, key string) {
	key = rl.key(key)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Инкрементируем счётчик
	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		// При ошибке Redis пропускаем запрос (fail-open), но логируем
		log.Printf("[RateLimiter] Redis error for key %s: %v. Allowing request (fail-open).", key, err)
		c.Next()
		return
	}

	// Если это первый запрос в окне - устанавливаем TTL
	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
			log.Printf("[RateLimiter] Failed to set TTL for key %s: %v", key, err)
		}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redisClient.TTL(ctx, key).Result()
	retryAfter := int(ttl.Seconds())
	if retryAfter < 0 {
		retryAfter = int(cfg.Window.Seconds())
	}

	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.MaxRequests))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", retryAfter))

	if int(count) > cfg.MaxRequests {
		log.Printf("[RateLimiter] Rate limit exceeded for key=%s. Count=%d, Limit=%d", key, count, cfg.MaxRequests)

		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests. Please try again later.",
			"error_type":  "rate_limited",
			"retry_after": retryAfter,
		})
		return
	}

	c.Next()
}
