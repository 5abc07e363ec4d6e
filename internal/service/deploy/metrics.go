package deploy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// Metrics records deploy outcomes and stage latency.
type Metrics struct {
	results       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics registers the deploy collectors with reg, reusing collectors
// that are already registered. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubehost",
			Name:      "deploy_results_total",
			Help:      "Number of deploy pipeline outcomes",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kubehost",
			Name:      "deploy_stage_duration_seconds",
			Help:      "Duration of deploy pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
	}

	if err := reg.Register(m.results); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				m.results = existing
			}
		}
	}
	if err := reg.Register(m.stageDuration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.stageDuration = existing
			}
		}
	}
	return m
}

func (m *Metrics) result(outcome string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stage(stage Stage, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}
