// Package authz is the loopback HTTP adapter harnesses call before each
// tool use.
package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the authorization server.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	PendingApprovals prometheus.GaugeFunc
	ActiveSessions   prometheus.GaugeFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// The gauge callbacks sample live supervisor state on scrape.
func NewMetrics(reg prometheus.Registerer, pending, sessions func() float64) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "latch",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed by the authorization server",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "latch",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, including time parked on approvals",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "latch",
				Name:      "decisions_total",
				Help:      "Terminal authorization decisions",
			},
			[]string{"decision"},
		),
		PendingApprovals: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "latch",
				Name:      "pending_approvals",
				Help:      "Approvals currently parked awaiting the user",
			},
			pending,
		),
		ActiveSessions: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "latch",
				Name:      "active_sessions",
				Help:      "Registered harness sessions",
			},
			sessions,
		),
	}
}
