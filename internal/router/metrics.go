package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла маршрутизация (включая провайдера)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во транзакций по поверхностям
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов по таксономии
	ErrorTotal *prometheus.CounterVec

	// Cache: попадания/промахи кэша идентичностей
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Saturation: состояние Circuit Breaker на relay (0 - ок, 1 - выбило)
	BreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистра метрики летят в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_route_duration_seconds",
			Help:    "Histogram of transaction routing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"surface", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_transactions_total",
			Help: "Total number of routed transactions.",
		}, []string{"surface"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_errors_total",
			Help: "Total number of terminal failures by kind.",
		}, []string{"kind", "stage"}),

		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_identity_cache_hits_total",
			Help: "Identity cache reads served without a directory fetch.",
		}),

		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_identity_cache_misses_total",
			Help: "Identity cache reads that required a directory fetch.",
		}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "nexus_relay_breaker_state",
			Help: "Current state of the provider relay circuit breaker (0=closed, 1=open).",
		}),
	}
}
