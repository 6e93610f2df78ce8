// Package metrics provides Prometheus metrics collection for the server
// engine.
//
// Metrics are optional: if InitRegistry is never called, constructors hand
// back no-op implementations with zero overhead, so the engine runs the
// same with collection on or off.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := metrics.NewServerMetrics(inflightFn)
//	srv.SetMetrics(m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call
// more than once; later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
