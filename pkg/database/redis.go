package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yourusername/mocktest-api/internal/config"
)

// Режимы подключения к Redis
const (
	RedisModeSingle   = "single"
	RedisModeSentinel = "sentinel"
	RedisModeCluster  = "cluster"
)

// redisPingTimeout ограничивает проверку подключения при старте
const redisPingTimeout = 5 * time.Second

// RedisOptions собирает опции клиента из конфигурации и проверяет их.
// Возвращает нормализованный режим.
func RedisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = RedisModeSingle
	}

	addrs := cfg.Addrs
	if len(addrs) == 0 && cfg.Addr != "" {
		addrs = []string{cfg.Addr}
	}
	if len(addrs) == 0 {
		return nil, "", fmt.Errorf("redis: addrs or addr must be provided")
	}

	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.MinRetryBackoff != 0 {
		opts.MinRetryBackoff = time.Duration(cfg.MinRetryBackoff) * time.Millisecond
	}
	if cfg.MaxRetryBackoff != 0 {
		opts.MaxRetryBackoff = time.Duration(cfg.MaxRetryBackoff) * time.Millisecond
	}

	switch mode {
	case RedisModeSingle:
		if len(addrs) > 1 {
			return nil, "", fmt.Errorf("redis single mode expects one address, got %d", len(addrs))
		}
	case RedisModeSentinel:
		if cfg.MasterName == "" {
			return nil, "", fmt.Errorf("redis sentinel mode requires master_name")
		}
		opts.MasterName = cfg.MasterName
	case RedisModeCluster:
		// В кластере нет выбора базы
		if cfg.DB != 0 {
			return nil, "", fmt.Errorf("redis cluster mode does not support db=%d", cfg.DB)
		}
	default:
		return nil, "", fmt.Errorf("unsupported redis mode: %s", mode)
	}

	return opts, mode, nil
}

// NewRedisClient подключается к Redis в заданном режиме. Клиент общий для кеша
// каталога и результатов и для rate limiter.
// Режим выбирается явно: кластер из одного адреса тоже работает как кластер.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	opts, mode, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch mode {
	case RedisModeSentinel:
		client = redis.NewFailoverClient(opts.Failover())
	case RedisModeCluster:
		client = redis.NewClusterClient(opts.Cluster())
	default:
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis (mode: %s, addrs: %v): %w", mode, opts.Addrs, err)
	}

	return client, nil
}
