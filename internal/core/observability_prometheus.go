package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shift2me/pkg/domain"
)

// PrometheusMetrics records service operations and titration gauges on a
// Prometheus registerer.
type PrometheusMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	steps      prometheus.Gauge
	residues   *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the shift2me collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shift2me_operations_total",
			Help: "Service operations by operation and result",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shift2me_operation_duration_seconds",
			Help:    "Service operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"operation"}),
		steps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shift2me_titration_steps",
			Help: "Steps ingested into the active titration",
		}),
		residues: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shift2me_titration_residues",
			Help: "Residues of the active titration by view",
		}, []string{"view"}),
	}
}

// Observe implements MetricsRecorder.
func (m *PrometheusMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := string(AuditStatusSuccess)
	if !success {
		result = string(AuditStatusError)
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Update sets the titration gauges from t.
func (m *PrometheusMetrics) Update(t *domain.Titration) {
	m.steps.Set(float64(t.Steps()))
	m.residues.WithLabelValues("all").Set(float64(len(t.Positions())))
	m.residues.WithLabelValues("complete").Set(float64(len(t.CompletePositions())))
	m.residues.WithLabelValues("incomplete").Set(float64(len(t.IncompletePositions())))
	m.residues.WithLabelValues("filtered").Set(float64(len(t.FilteredPositions())))
	m.residues.WithLabelValues("selected").Set(float64(len(t.SelectedPositions())))
}

// Track keeps the titration gauges current as svc commits changes. The
// returned function stops tracking.
func (m *PrometheusMetrics) Track(svc *Service) func() {
	svc.View(m.Update)
	return svc.Subscribe(func(domain.Event) { svc.View(m.Update) })
}
