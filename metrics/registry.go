// Package metrics provides a thin, get-or-create wrapper around
// prometheus/client_golang so that subsystems can declare their counters
// and gauges without threading a *prometheus.Registry through every
// constructor by hand.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a prometheus.Registry and get-or-create accessors for the
// collector types this module needs. Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	reg  *prometheus.Registry
	ctrs map[string]*prometheus.CounterVec
	gaus map[string]prometheus.Gauge
}

// NewRegistry creates an empty Registry backed by a fresh
// prometheus.Registry (not the global DefaultRegisterer, so tests can
// build independent registries without collisions).
func NewRegistry() *Registry {
	return &Registry{
		reg:  prometheus.NewRegistry(),
		ctrs: make(map[string]*prometheus.CounterVec),
		gaus: make(map[string]prometheus.Gauge),
	}
}

// Counter returns the CounterVec registered under name with the given label
// names, creating it on first access. Pass no labels for a plain counter
// and call WithLabelValues() with no arguments to obtain the single
// prometheus.Counter.
func (r *Registry) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ctrs[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(c)
	r.ctrs[name] = c
	return c
}

// Gauge returns the Gauge registered under name, creating it on first access.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gaus[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	r.reg.MustRegister(g)
	r.gaus[name] = g
	return g
}

// Handler returns the http.Handler serving this registry's metrics in
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
