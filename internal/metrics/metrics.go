// Package metrics exposes Prometheus instruments for the workflow and the
// prediction collaborator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pharma_scm"

type Metrics struct {
	transitions *prometheus.CounterVec
	settle      prometheus.Histogram
	predictions *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

// New registers the instruments on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow operations by action and outcome.",
		}, []string{"action", "outcome"}),
		settle: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_settle_seconds",
			Help:      "Time from dispatch until the batch is in transit.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_predictions_total",
			Help:      "Anomaly prediction requests by outcome.",
		}, []string{"outcome"}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveSettle(d time.Duration) {
	if m == nil {
		return
	}
	m.settle.Observe(d.Seconds())
}

func (m *Metrics) ObservePrediction(outcome string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
