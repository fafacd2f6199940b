package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtcsignal"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// StatsUpdater keeps one prometheus gauge per registered metric name.
type StatsUpdater struct {
	reg    *prometheus.Registry
	mu     sync.RWMutex
	gauges map[string]prometheus.Gauge
}

// NewStatsUpdater creates a new stats updater and mounts its handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	su := &StatsUpdater{
		reg:    reg,
		gauges: make(map[string]prometheus.Gauge),
	}

	if mux != nil {
		mux.Handle("GET /metrics", su.Handler())
	}

	return su
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.reg, promhttp.HandlerOpts{})
}

// RegisterMetric is idempotent so several components may declare the same name.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.reg.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}

func (su *StatsUpdater) Incr(name string) {
	su.gauge(name).Inc()
}

func (su *StatsUpdater) Decr(name string) {
	su.gauge(name).Dec()
}

// Value reads the current value of a metric.
func (su *StatsUpdater) Value(name string) float64 {
	mfs, err := su.reg.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range mfs {
		if mf.GetName() == namespace+"_"+name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
