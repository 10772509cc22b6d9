// Package metrics exposes Prometheus counters for a chat session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the session counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	sends     *prometheus.CounterVec
	analyses  *prometheus.CounterVec
	cache     *prometheus.CounterVec
	replies   *prometheus.CounterVec
	pushes    *prometheus.CounterVec
	composing prometheus.Gauge
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "sends_total",
			Help:      "Messages sent by result.",
		}, []string{"result"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "analysis_calls_total",
			Help:      "Text analysis service calls by kind and result.",
		}, []string{"kind", "result"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "analysis_cache_lookups_total",
			Help:      "Analysis cache lookups by kind and outcome.",
		}, []string{"kind", "outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "responder_replies_total",
			Help:      "Responder requests by result.",
		}, []string{"result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "store_events_total",
			Help:      "Store events applied to the ledger by kind.",
		}, []string{"kind"}),
		composing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "responder_in_flight",
			Help:      "Responder requests currently in flight.",
		}),
	}
	reg.MustRegister(m.sends, m.analyses, m.cache, m.replies, m.pushes, m.composing)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Send records the outcome of a store append for a user message.
func (m *Metrics) Send(err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result(err)).Inc()
}

// Blocked records a send rejected by moderation.
func (m *Metrics) Blocked() {
	if m == nil {
		return
	}
	m.sends.WithLabelValues("blocked").Inc()
}

// Analysis records a call to the text analysis service.
func (m *Metrics) Analysis(kind string, err error) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(kind, result(err)).Inc()
}

// CacheLookup records an analysis cache lookup.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cache.WithLabelValues(kind, outcome).Inc()
}

// Reply records the outcome of a responder request.
func (m *Metrics) Reply(err error) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(result(err)).Inc()
}

// StoreEvent records a pushed store event.
func (m *Metrics) StoreEvent(kind string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind).Inc()
}

// InFlight sets the number of outstanding responder requests.
func (m *Metrics) InFlight(n int) {
	if m == nil {
		return
	}
	m.composing.Set(float64(n))
}
