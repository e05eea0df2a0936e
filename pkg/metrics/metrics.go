// Package metrics holds the process-wide Prometheus registry every
// domain metrics collector (pkg/metrics/prometheus) registers into.
// Collectors are constructed as nil-safe pointers so call sites can record
// against them unconditionally whether or not metrics are enabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and installs reg as the registry
// every prometheus.* collector in this process registers into. Passing a
// nil registry enables collection against prometheus.NewRegistry().
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	registry = reg
	enabled = true
}

// IsEnabled reports whether InitRegistry has been called. Collector
// constructors use this to skip allocating metrics entirely when a server
// runs with metrics disabled.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the process-wide registry. Callers must check
// IsEnabled first; GetRegistry panics if metrics were never initialized,
// since a nil registry passed to promauto.With would panic anyway on the
// first collector it registers.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	if registry == nil {
		panic("metrics: GetRegistry called before InitRegistry")
	}
	return registry
}
