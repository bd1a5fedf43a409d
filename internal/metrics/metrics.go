// Package metrics exposes prometheus instruments for the session, the
// answer cache and the engine transports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ada"

// Metrics owns a dedicated registry so that tests and multiple engines do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	SubmissionsTotal  *prometheus.CounterVec
	AnswerDuration    *prometheus.HistogramVec
	StaleDiscards     prometheus.Counter
	CacheLookups      *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "submissions_total",
				Help:      "Questions submitted, by outcome",
			},
			[]string{"outcome"},
		),
		AnswerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "answer_duration_seconds",
				Help:      "Time spent waiting for the answer service",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		StaleDiscards: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "stale_discards_total",
				Help:      "Responses dropped because a newer question was asked",
			},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Answer cache lookups, by result and tier",
			},
			[]string{"result", "tier"},
		),
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "commands_total",
				Help:      "Protocol commands handled, by type",
			},
			[]string{"type"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "active_connections",
				Help:      "Open WebSocket connections",
			},
		),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Submitted implements session.Recorder.
func (m *Metrics) Submitted(outcome string, elapsed time.Duration) {
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
	m.AnswerDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Discarded implements session.Recorder.
func (m *Metrics) Discarded() {
	m.StaleDiscards.Inc()
}

// CacheHit implements answer.CacheRecorder.
func (m *Metrics) CacheHit(tier string) {
	m.CacheLookups.WithLabelValues("hit", tier).Inc()
}

// CacheMiss implements answer.CacheRecorder.
func (m *Metrics) CacheMiss() {
	m.CacheLookups.WithLabelValues("miss", "").Inc()
}

// Command counts one handled protocol command.
func (m *Metrics) Command(kind string) {
	m.CommandsTotal.WithLabelValues(kind).Inc()
}

// ConnectionOpened and ConnectionClosed track WebSocket clients.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }
