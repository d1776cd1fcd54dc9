// Package prommetrics implements telemetry.Metrics on top of
// github.com/prometheus/client_golang, for the Multi-Run Runner's aggregate
// dashboard, which exposes a pollable /metrics surface distinct from the
// push-based OTEL path the per-run Evaluator uses (see SPEC_FULL.md §10).
package prommetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qym-go/qym/telemetry"
)

// Metrics implements telemetry.Metrics by lazily creating and caching
// Prometheus collectors per metric name, registered against reg.
type Metrics struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New constructs a Metrics backed by reg. Pass prometheus.NewRegistry() for
// an isolated registry (recommended so concurrent multi-run aggregates don't
// collide with the process default registry).
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func tagLabels(tags []string) (prometheus.Labels, []string) {
	names := make([]string, 0, len(tags)/2)
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
		labels[tags[i]] = tags[i+1]
	}
	return labels, names
}

// IncCounter increments (or creates, on first use) a counter vector named
// name with the given label dimensions.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	labels, names := tagLabels(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, names)
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.With(labels).Add(value)
}

// RecordTimer observes a duration (in seconds) on a histogram vector named
// name.
func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	labels, names := tagLabels(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, names)
		m.reg.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.With(labels).Observe(duration.Seconds())
}

// RecordGauge sets a gauge vector named name to value.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	labels, names := tagLabels(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, names)
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.With(labels).Set(value)
}

var _ telemetry.Metrics = (*Metrics)(nil)
