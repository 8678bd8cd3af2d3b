package terrain

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Источники, из которых Service получает готовую карту.
const (
	SourceCache   = "cache"
	SourceStorage = "storage"
	SourceMiss    = "miss"
)

// Metrics содержит Prometheus-метрики генератора.
//
// Метрики:
// * terrain_generations_total{result} (counter)
// * terrain_generation_duration_seconds{size} (histogram)
// * terrain_cells_generated_total (counter)
// * terrain_lookups_total{source} (counter, source: cache/storage/miss)
type Metrics struct {
	generations    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	cellsGenerated prometheus.Counter
	lookups        *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg
// (nil означает prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "generations_total",
			Help:      "Число запусков генерации карт высот.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "terrain",
			Name:      "generation_duration_seconds",
			Help:      "Длительность генерации карты высот.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"size"}),
		cellsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "cells_generated_total",
			Help:      "Число ячеек, вычисленных проходами square и diamond.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "lookups_total",
			Help:      "Поиск готовых карт по источнику.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.generations, m.duration, m.cellsGenerated, m.lookups)
	return m
}

func (m *Metrics) observeGeneration(size int, seconds float64, cells int) {
	m.generations.WithLabelValues("ok").Inc()
	m.duration.WithLabelValues(strconv.Itoa(size)).Observe(seconds)
	m.cellsGenerated.Add(float64(cells))
}

func (m *Metrics) generationFailed() {
	m.generations.WithLabelValues("error").Inc()
}

func (m *Metrics) lookup(source string) {
	m.lookups.WithLabelValues(source).Inc()
}
