package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo определяет интерфейс горячего кеша закодированных карт высот.
// Поддерживает двухуровневую архитектуру: Hot Cache (Redis или память) +
// Cold Storage (storage.Store).
//
// Использование:
//
//	c := NewMemoryCache(config, store)
//	data, err := c.Get(ctx, "heightmap:ab12")
//	err = c.Set(ctx, "heightmap:ab12", data, 10*time.Minute)
type CacheRepo interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден ни в кеше, ни в Cold Storage.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа в кеше (без Read-Through).
	Exists(ctx context.Context, key string) (bool, error)

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// ColdStorage определяет интерфейс для постоянного хранения данных.
// Используется как fallback когда данные отсутствуют в Hot Cache.
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchStore(ctx context.Context, items map[string][]byte) error
	Close() error
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	// Общие метрики
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	ColdHits      int64   `json:"cold_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	// Метрики производительности
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys int64 `json:"total_keys"`

	// Последнее обновление
	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	// Redis конфигурация
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// TTL настройки
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	// Производительность
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// withDefaults заполняет незаданные поля.
func (c CacheConfig) withDefaults() CacheConfig {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 24 * time.Hour
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
	return c
}

// clampTTL приводит TTL к диапазону (0, MaxTTL].
func (c CacheConfig) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
