// Package telemetry exposes Prometheus metrics for retrieval runs.
//
// Each run owns a private registry so concurrent runs and tests never share
// counters. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "mtfphase"

// Failure reasons used as the "reason" label.
const (
	ReasonNonFinite = "non_finite"
	ReasonWorker    = "worker"
	ReasonConfig    = "config"
	ReasonCanceled  = "canceled"
	ReasonOther     = "other"
)

// Metrics groups the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	evaluations  prometheus.Counter
	failures     *prometheus.CounterVec
	planeSeconds prometheus.Histogram
	iterations   prometheus.Counter
	workers      prometheus.Gauge
	bestCost     prometheus.Gauge

	mu       sync.Mutex
	best     float64
	haveBest bool
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cost",
			Name:      "evaluations_total",
			Help:      "Completed cost function evaluations",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cost",
			Name:      "failures_total",
			Help:      "Failed cost function evaluations by reason",
		}, []string{"reason"}),
		planeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "plane_seconds",
			Help:      "Time to propagate and sample one focus plane",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "iterations_total",
			Help:      "Completed optimizer iterations",
		}),
		workers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Live pool workers",
		}),
		bestCost: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "best_cost",
			Help:      "Lowest cost recorded in the trace",
		}),
	}
}

// Registry returns the private registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EvaluationDone counts one successful evaluation.
func (m *Metrics) EvaluationDone() {
	if m == nil {
		return
	}
	m.evaluations.Inc()
}

// EvaluationFailed counts one failed evaluation.
func (m *Metrics) EvaluationFailed(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// ObservePlane records one plane realization time.
func (m *Metrics) ObservePlane(seconds float64) {
	if m == nil {
		return
	}
	m.planeSeconds.Observe(seconds)
}

// IterationDone counts an optimizer iteration and tracks the best cost.
func (m *Metrics) IterationDone(cost float64) {
	if m == nil {
		return
	}
	m.iterations.Inc()
	m.ObserveCost(cost)
}

// ObserveCost lowers the best-cost gauge when cost improves on it.
func (m *Metrics) ObserveCost(cost float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveBest && m.best <= cost {
		return
	}
	m.haveBest, m.best = true, cost
	m.bestCost.Set(cost)
}

// WorkerStarted and WorkerStopped track live pool workers.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workers.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.workers.Dec()
}

// Summary flattens the registry into slog-ready key/value pairs. Counters and
// gauges report their value summed across labels, histograms their sample
// count and sum.
func (m *Metrics) Summary() []any {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return []any{"metrics_error", err.Error()}
	}

	values := make(map[string]float64)
	for _, fam := range families {
		name := fam.GetName()
		for _, metric := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				values[name] += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				values[name] += metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				values[name+"_count"] += float64(h.GetSampleCount())
				values[name+"_sum"] += h.GetSampleSum()
			}
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, values[k])
	}
	return out
}
