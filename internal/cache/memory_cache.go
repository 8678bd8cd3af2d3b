package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache реализует CacheRepo в памяти процесса с TTL.
// Используется без Redis (одиночный узел, CLI, тесты).
type MemoryCache struct {
	mu          sync.RWMutex
	entries     map[string]memoryEntry
	config      CacheConfig
	coldStorage ColdStorage
	now         func() time.Time

	stats stats
}

// NewMemoryCache создаёт кеш в памяти; coldStorage может быть nil.
func NewMemoryCache(config CacheConfig, coldStorage ColdStorage) *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memoryEntry),
		config:      config.withDefaults(),
		coldStorage: coldStorage,
		now:         time.Now,
	}
}

func (m *MemoryCache) lookup(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Запись могла быть обновлена между RUnlock и Lock
		if cur, ok := m.entries[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (m *MemoryCache) put(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(m.config.clampTTL(ttl)),
	}
	m.mu.Unlock()
}

// Get возвращает значение из памяти или, при промахе, из Cold Storage.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	start := time.Now()
	defer m.stats.recordLatency(start)

	if v, ok := m.lookup(key); ok {
		m.stats.hit()
		return append([]byte(nil), v...), nil
	}

	if m.coldStorage != nil {
		if v, err := m.coldStorage.Load(ctx, key); err == nil {
			m.stats.coldHit()
			m.put(key, v, 0)
			return v, nil
		}
	}

	m.stats.miss()
	return nil, ErrCacheMiss
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer m.stats.recordLatency(start)

	m.put(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

// Purge удаляет просроченные записи и возвращает их количество.
func (m *MemoryCache) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetMetrics() *CacheMetrics {
	m.mu.RLock()
	n := int64(len(m.entries))
	m.mu.RUnlock()
	return m.stats.snapshot(n)
}
