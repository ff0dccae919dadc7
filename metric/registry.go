package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/natsrpc/errors"
)

// MetricsRegistrar lets applications built on natsrpc register their own
// collectors next to the core metrics
type MetricsRegistrar interface {
	Register(owner, metricName string, collector prometheus.Collector) error
	Unregister(owner, metricName string) bool
}

type collectorKey struct {
	owner, name string
}

// MetricsRegistry owns a prometheus registry holding the core request/reply
// metrics, the Go runtime collectors and any collectors added by owners.
type MetricsRegistry struct {
	Metrics *Metrics

	prom  *prometheus.Registry
	mu    sync.Mutex
	owned map[collectorKey]prometheus.Collector
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

func NewMetricsRegistry() *MetricsRegistry {
	prom := prometheus.NewRegistry()
	core := NewMetrics()
	prom.MustRegister(core.collectors()...)
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &MetricsRegistry{
		Metrics: core,
		prom:    prom,
		owned:   make(map[collectorKey]prometheus.Collector),
	}
}

// PrometheusRegistry is the registry served on the metrics endpoint.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry { return r.prom }

// CoreMetrics returns the request/reply metrics shared by clients and services.
func (r *MetricsRegistry) CoreMetrics() *Metrics { return r.Metrics }

// Register adds collector under owner. A second registration of the same
// owner and name, or a name clash inside prometheus, is an invalid error.
func (r *MetricsRegistry) Register(owner, metricName string, collector prometheus.Collector) error {
	key := collectorKey{owner, metricName}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.owned[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("%s already registers %s", owner, metricName),
			"MetricsRegistry", "Register", "register collector")
	}

	if err := r.prom.Register(collector); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if errors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "register "+metricName)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+metricName)
	}

	r.owned[key] = collector
	return nil
}

// Unregister removes a collector added by Register and reports whether it
// was present.
func (r *MetricsRegistry) Unregister(owner, metricName string) bool {
	key := collectorKey{owner, metricName}

	r.mu.Lock()
	defer r.mu.Unlock()

	collector, ok := r.owned[key]
	if !ok || !r.prom.Unregister(collector) {
		return false
	}
	delete(r.owned, key)
	return true
}
