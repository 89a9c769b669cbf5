// Package metric wires the module's Prometheus collectors to an HTTP
// endpoint. Every memcache.Cache owns its own typed collectors; this
// package only gathers them into one registry and serves it.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a prometheus.Registry, giving callers one place to
// register every Collector owned by the object graph before starting
// the HTTP endpoint.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// MustRegister registers cs, panicking on a duplicate or inconsistent
// collector -- intended for startup wiring, where such an error is a
// programming mistake rather than a runtime condition to recover from.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Handler returns the http.Handler serving this registry's metrics in
// the Prometheus exposition format, for mounting at "/metrics".
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
