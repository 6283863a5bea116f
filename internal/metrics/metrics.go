// Package metrics exposes paddock's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the collectors shared by the scheduler and the maintenance
// coordinator. One Set exists per process, registered on its own registry
// so tests can create Sets freely.
type Set struct {
	registry *prometheus.Registry

	TriggersFired    *prometheus.CounterVec
	TriggersMisfired *prometheus.CounterVec
	RefreshRuns      *prometheus.CounterVec
	LiveTriggers     prometheus.Gauge
	StoredRaces      prometheus.Gauge
}

func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		TriggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddock",
			Name:      "triggers_fired_total",
			Help:      "Triggers claimed and dispatched, by purpose.",
		}, []string{"purpose"}),
		TriggersMisfired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddock",
			Name:      "triggers_misfired_total",
			Help:      "Triggers dropped because they came due beyond their grace window.",
		}, []string{"purpose"}),
		RefreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paddock",
			Name:      "refresh_runs_total",
			Help:      "Maintenance refresh attempts, by final status.",
		}, []string{"status"}),
		LiveTriggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paddock",
			Name:      "live_triggers",
			Help:      "Triggers currently registered in the durable store.",
		}),
		StoredRaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paddock",
			Name:      "stored_races",
			Help:      "Races currently persisted from the daily programme.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.TriggersFired,
		s.TriggersMisfired,
		s.RefreshRuns,
		s.LiveTriggers,
		s.StoredRaces,
	)
	return s
}

// Handler serves the registry in the Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
