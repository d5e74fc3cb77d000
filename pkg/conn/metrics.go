package conn

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/usestring/esquery/pkg/types"
)

// Metrics records executed verbs.
type Metrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics registers the executor collectors with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esquery_request_duration_seconds",
				Help:    "Engine request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb", "role"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esquery_request_errors_total",
				Help: "Total number of failed engine requests",
			},
			[]string{"verb", "role"},
		),
	}
}

func (m *Metrics) observe(verb types.Verb, role Role, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(string(verb), role.String()).Observe(d.Seconds())
	if err != nil {
		m.errors.WithLabelValues(string(verb), role.String()).Inc()
	}
}
