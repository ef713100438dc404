package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the registry and its compiled cache.
type Metrics struct {
	Patterns     *prometheus.GaugeVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	Compilations *prometheus.CounterVec
	Evictions    *prometheus.CounterVec
}

// NewMetrics creates registry collectors and registers them with reg.
// A nil reg leaves the collectors unregistered, which is useful in tests.
//
// Metrics:
//   - patternd_registry_patterns{state} - definitions by state (active, inactive)
//   - patternd_registry_cache_hits_total - compiled cache hits
//   - patternd_registry_cache_misses_total - compiled cache misses
//   - patternd_registry_compilations_total{result} - regex compilations (ok, error)
//   - patternd_registry_evictions_total{reason} - cache evictions (inactive, superseded, unknown)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Patterns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patternd_registry_patterns",
				Help: "Number of registered pattern definitions by state",
			},
			[]string{"state"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_registry_cache_hits_total",
			Help: "Total compiled pattern cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_registry_cache_misses_total",
			Help: "Total compiled pattern cache misses",
		}),
		Compilations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patternd_registry_compilations_total",
				Help: "Total regular expression compilations",
			},
			[]string{"result"},
		),
		Evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patternd_registry_evictions_total",
				Help: "Total compiled pattern cache evictions",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) setPatterns(active, inactive int) {
	if m == nil {
		return
	}
	m.Patterns.WithLabelValues("active").Set(float64(active))
	m.Patterns.WithLabelValues("inactive").Set(float64(inactive))
}

func (m *Metrics) hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) compiled(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Compilations.WithLabelValues(result).Inc()
}

func (m *Metrics) evicted(reason string) {
	if m != nil {
		m.Evictions.WithLabelValues(reason).Inc()
	}
}
