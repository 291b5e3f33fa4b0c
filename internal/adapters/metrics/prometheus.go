package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"admin-console/internal/ports"
)

// Prometheus records permission cache and gate outcomes on its own registry.
type Prometheus struct {
	registry      *prometheus.Registry
	cacheLoads    *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
}

var _ ports.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		cacheLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_permission_cache_loads_total",
				Help: "Permission cache loads by outcome",
			},
			[]string{"outcome"},
		),
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_gate_decisions_total",
				Help: "Access gate decisions by permission and branch",
			},
			[]string{"permission", "branch"},
		),
	}
}

func (p *Prometheus) CacheLoad(outcome string) {
	p.cacheLoads.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) GateDecision(permission, branch string) {
	p.gateDecisions.WithLabelValues(permission, branch).Inc()
}

// TrackSessions exports the number of live permission caches.
func (p *Prometheus) TrackSessions(count func() int) {
	promauto.With(p.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_active_sessions",
			Help: "Signed-in subjects with a live permission cache",
		},
		func() float64 { return float64(count()) },
	)
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
