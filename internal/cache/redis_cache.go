package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/terrain/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализует CacheRepo используя Redis как Hot Cache.
// При промахе загружает запись из Cold Storage и кладёт её в Redis (Read-Through).
type RedisCache struct {
	client      *redis.Client
	config      CacheConfig
	coldStorage ColdStorage
	logger      *logging.Logger

	stats stats
}

// NewRedisCache создаёт новый Redis кеш с опциональным Cold Storage.
//
// Параметры:
//
//	config - конфигурация Redis
//	coldStorage - опциональное постоянное хранилище (может быть nil)
//
// Возвращает:
//
//	*RedisCache - готовый к использованию кеш
//	error - ошибка подключения или конфигурации
func NewRedisCache(config CacheConfig, coldStorage ColdStorage) (*RedisCache, error) {
	config = config.withDefaults()

	// Создаём Redis клиент
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
		logger:      logging.GetCacheLogger(),
	}

	c.logger.Info("Redis cache initialized: %s (default TTL %v)", config.RedisURL, config.DefaultTTL)
	return c, nil
}

// Get получает значение по ключу из Redis кеша.
// При промахе пытается загрузить из Cold Storage (Read-Through).
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	start := time.Now()
	defer r.stats.recordLatency(start)

	// Попытка получить из Redis
	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		r.stats.hit()
		return val, nil
	}

	if !errors.Is(err, redis.Nil) {
		r.stats.miss()
		r.logger.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	// Read-Through: пытаемся загрузить из Cold Storage
	if r.coldStorage != nil {
		val, err := r.coldStorage.Load(ctx, key)
		if err == nil {
			r.stats.coldHit()
			if err := r.client.Set(ctx, key, val, r.config.DefaultTTL).Err(); err != nil {
				r.logger.Warn("Redis warm-up failed for key %s: %v", key, err)
			}
			return val, nil
		}
		r.logger.Debug("Cold storage miss for key %s: %v", key, err)
	}

	r.stats.miss()
	return nil, ErrCacheMiss
}

// Set сохраняет значение в Redis кеше.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	start := time.Now()
	defer r.stats.recordLatency(start)

	if err := r.client.Set(ctx, key, value, r.config.clampTTL(ttl)).Err(); err != nil {
		r.logger.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete удаляет ключ из кеша.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer r.stats.recordLatency(start)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Exists проверяет существование ключа в кеше.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer r.stats.recordLatency(start)

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return count > 0, nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Error closing Redis connection: %v", err)
		return err
	}

	r.logger.Info("Redis cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		keys = -1
	}
	return r.stats.snapshot(keys)
}
