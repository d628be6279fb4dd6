// Package metrics exposes Prometheus collectors for orchestrator
// activity. All methods are nil-safe so callers never guard their
// metrics handle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator collectors. Construct with
// MustNewMetrics, which panics on duplicate registration.
type Metrics struct {
	SessionsSpawned  *prometheus.CounterVec
	SessionsKilled   *prometheus.CounterVec
	SpawnsDenied     *prometheus.CounterVec
	SessionsActive   *prometheus.GaugeVec
	RateLimitsHit    *prometheus.CounterVec
	CyclesDetected   prometheus.Counter
	EscalationsTotal prometheus.Counter
	PollDuration     prometheus.Histogram
	EnrichmentErrors *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
}

// MustNewMetrics registers the orchestrator collectors with reg and
// returns them. Panics if any collector is already registered.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_sessions_spawned_total",
			Help: "Sessions spawned, by project.",
		}, []string{"project"}),
		SessionsKilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_sessions_killed_total",
			Help: "Sessions killed, by project.",
		}, []string{"project"}),
		SpawnsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_spawns_denied_total",
			Help: "Spawn requests denied by the worker pool, by limit hit.",
		}, []string{"limit"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ao_sessions_active",
			Help: "Sessions currently counted against pool caps, by project.",
		}, []string{"project"}),
		RateLimitsHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_rate_limits_total",
			Help: "Rate limits recorded, by executable.",
		}, []string{"executable"}),
		CyclesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ao_cycles_detected_total",
			Help: "Stuck-cycle judgments that recommended breaking.",
		}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ao_escalations_total",
			Help: "escalation.required events emitted.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ao_poll_duration_seconds",
			Help:    "Duration of one reconciliation tick.",
			Buckets: prometheus.DefBuckets,
		}),
		EnrichmentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_enrichment_errors_total",
			Help: "Per-session enrichment failures, by kind.",
		}, []string{"kind"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ao_events_published_total",
			Help: "Events published on the bus, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.SessionsSpawned, m.SessionsKilled, m.SpawnsDenied, m.SessionsActive,
		m.RateLimitsHit, m.CyclesDetected, m.EscalationsTotal, m.PollDuration,
		m.EnrichmentErrors, m.EventsPublished,
	)
	return m
}

// Nil-safe recording helpers.

func (m *Metrics) RecordSpawn(project string) {
	if m == nil {
		return
	}
	m.SessionsSpawned.WithLabelValues(project).Inc()
}

func (m *Metrics) RecordKill(project string) {
	if m == nil {
		return
	}
	m.SessionsKilled.WithLabelValues(project).Inc()
}

func (m *Metrics) RecordSpawnDenied(limit string) {
	if m == nil {
		return
	}
	m.SpawnsDenied.WithLabelValues(limit).Inc()
}

func (m *Metrics) SetActiveSessions(project string, n int) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(project).Set(float64(n))
}

func (m *Metrics) RecordRateLimit(executable string) {
	if m == nil {
		return
	}
	m.RateLimitsHit.WithLabelValues(executable).Inc()
}

func (m *Metrics) RecordCycle() {
	if m == nil {
		return
	}
	m.CyclesDetected.Inc()
}

func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

func (m *Metrics) ObservePoll(d time.Duration) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordEnrichmentError(kind string) {
	if m == nil {
		return
	}
	m.EnrichmentErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
