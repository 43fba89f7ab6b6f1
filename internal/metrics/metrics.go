// Package metrics holds the prometheus collectors of the daemon
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentionwatch"

// Metrics groups all collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	Scans               *prometheus.CounterVec
	EventsExtracted     *prometheus.CounterVec
	EventsAdmitted      *prometheus.CounterVec
	Duplicates          prometheus.Counter
	SuggestionFallbacks *prometheus.CounterVec
	TransportDrops      *prometheus.CounterVec
	PageAgents          prometheus.Gauge
	ScanDuration        prometheus.Histogram
}

// New creates and registers all collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan passes by trigger.",
		}, []string{"trigger"}),
		EventsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_extracted_total",
			Help:      "Candidate events produced by extraction, by kind.",
		}, []string{"kind"}),
		EventsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_admitted_total",
			Help:      "Events accepted into the store, by kind.",
		}, []string{"kind"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Events rejected because their id was already stored.",
		}),
		SuggestionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_fallbacks_total",
			Help:      "Suggestion requests answered with the static replies, by provider.",
		}, []string{"provider"}),
		TransportDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_drops_total",
			Help:      "One-way reports dropped for lack of a receiver, by action.",
		}, []string{"action"}),
		PageAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "page_agents",
			Help:      "Connected page agents.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of a scan pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Scans,
		m.EventsExtracted,
		m.EventsAdmitted,
		m.Duplicates,
		m.SuggestionFallbacks,
		m.TransportDrops,
		m.PageAgents,
		m.ScanDuration,
	)
	return m
}

// Handler serves the registry in the text exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Drop is an Emitter drop callback
func (m *Metrics) Drop(action string) {
	m.TransportDrops.WithLabelValues(action).Inc()
}
