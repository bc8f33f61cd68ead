// Package metrics exposes navigation and flow reload counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dlovans/taxflow/pkg/navigate"
)

const namespace = "taxflow"

// Metrics records navigator outcomes. It implements navigate.Observer.
type Metrics struct {
	registry     *prometheus.Registry
	navigations  *prometheus.CounterVec
	configErrors prometheus.Counter
	latency      prometheus.Histogram
	reloads      *prometheus.CounterVec
	flowScreens  prometheus.Gauge
}

var _ navigate.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Navigations resolved, by destination kind.",
		}, []string{"outcome"}),
		configErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_errors_total",
			Help:      "Flow configuration errors met while navigating.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "navigation_seconds",
			Help:      "Time to resolve a navigation.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_reloads_total",
			Help:      "Flow reloads triggered by file changes, by result.",
		}, []string{"result"}),
		flowScreens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_screens",
			Help:      "Screens in the loaded flow.",
		}),
	}
	m.registry.MustRegister(
		m.navigations,
		m.configErrors,
		m.latency,
		m.reloads,
		m.flowScreens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveNavigation implements navigate.Observer.
func (m *Metrics) ObserveNavigation(kind navigate.Kind, elapsed time.Duration) {
	m.navigations.WithLabelValues(string(kind)).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// ObserveConfigError implements navigate.Observer.
func (m *Metrics) ObserveConfigError(error) {
	m.configErrors.Inc()
}

// ObserveReload counts a flow reload and, when it succeeded, records the
// size of the new flow.
func (m *Metrics) ObserveReload(screens int, err error) {
	if err != nil {
		m.reloads.WithLabelValues("error").Inc()
		return
	}
	m.reloads.WithLabelValues("ok").Inc()
	m.flowScreens.Set(float64(screens))
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
