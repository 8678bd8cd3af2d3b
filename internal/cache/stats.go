package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// stats собирает счётчики и latency, общие для всех реализаций кеша.
type stats struct {
	requests, hits, coldHits, misses int64

	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64

	mu    sync.RWMutex
	avgMs float64
	maxMs float64
}

func (s *stats) hit()     { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.hits, 1) }
func (s *stats) coldHit() { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.coldHits, 1) }
func (s *stats) miss()    { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.misses, 1) }

// recordLatency записывает latency метрику.
func (s *stats) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&s.latencySum, latency)
	count := atomic.AddInt64(&s.latencyCount, 1)

	// Обновляем максимальную latency
	for {
		current := atomic.LoadInt64(&s.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&s.maxLatency, current, latency) {
			break
		}
	}

	// Периодически обновляем среднюю latency
	if count%100 == 1 {
		s.updateLatency()
	}
}

func (s *stats) updateLatency() {
	count := atomic.LoadInt64(&s.latencyCount)
	if count == 0 {
		return
	}

	sum := atomic.LoadInt64(&s.latencySum)
	peak := atomic.LoadInt64(&s.maxLatency)

	s.mu.Lock()
	s.avgMs = float64(sum) / float64(count) / 1e6 // нс в мс
	s.maxMs = float64(peak) / 1e6
	s.mu.Unlock()
}

// snapshot возвращает копию метрик; totalKeys < 0 означает "неизвестно".
func (s *stats) snapshot(totalKeys int64) *CacheMetrics {
	s.updateLatency()

	m := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&s.requests),
		CacheHits:     atomic.LoadInt64(&s.hits),
		ColdHits:      atomic.LoadInt64(&s.coldHits),
		CacheMisses:   atomic.LoadInt64(&s.misses),
		TotalKeys:     totalKeys,
		LastUpdate:    time.Now(),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits+m.ColdHits) / float64(m.TotalRequests)
	}

	s.mu.RLock()
	m.AvgLatencyMs = s.avgMs
	m.MaxLatencyMs = s.maxMs
	s.mu.RUnlock()
	return m
}
