// Package metrics exposes pipeline counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "negosync"

// Metrics groups every collector the pipeline reports to. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived       *prometheus.CounterVec
	EventsMalformed      *prometheus.CounterVec
	EventsSuppressed     *prometheus.CounterVec
	StoreOutcomes        *prometheus.CounterVec
	NotificationsRemoved *prometheus.CounterVec
	NotificationsActive  prometheus.Gauge
	Polls                *prometheus.CounterVec
	PollSkipped          prometheus.Counter
	ChannelState         *prometheus.GaugeVec
	FeedbackErrors       prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Raw negotiation events received, by alias and origin.",
		}, []string{"alias", "origin"}),
		EventsMalformed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_malformed_total",
			Help:      "Events dropped because they could not be normalized.",
		}, []string{"origin"}),
		EventsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_self_suppressed_total",
			Help:      "Events suppressed as produced by the local user, by predicate.",
		}, []string{"predicate"}),
		StoreOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_upserts_total",
			Help:      "Notification store upserts, by outcome.",
		}, []string{"outcome"}),
		NotificationsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_removed_total",
			Help:      "Notifications removed from the store, by reason.",
		}, []string{"reason"}),
		NotificationsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_active",
			Help:      "Notifications currently held by the store.",
		}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Reconciliation polls, by result.",
		}, []string{"result"}),
		PollSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_events_skipped_total",
			Help:      "Polled events already covered by the store.",
		}),
		ChannelState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "1 for the current live channel state, 0 otherwise.",
		}, []string{"state"}),
		FeedbackErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_errors_total",
			Help:      "Feedback dispatch failures.",
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Received counts one raw event.
func (m *Metrics) Received(alias, origin string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(alias, origin).Inc()
}

// Malformed counts one dropped event.
func (m *Metrics) Malformed(origin string) {
	if m == nil {
		return
	}
	m.EventsMalformed.WithLabelValues(origin).Inc()
}

// Suppressed counts one self-origin suppression.
func (m *Metrics) Suppressed(predicate string) {
	if m == nil {
		return
	}
	m.EventsSuppressed.WithLabelValues(predicate).Inc()
}

// Upserted counts one store outcome and refreshes the active gauge.
func (m *Metrics) Upserted(outcome string, active int) {
	if m == nil {
		return
	}
	m.StoreOutcomes.WithLabelValues(outcome).Inc()
	m.NotificationsActive.Set(float64(active))
}

// Removed counts one removal.
func (m *Metrics) Removed(reason string) {
	if m == nil {
		return
	}
	m.NotificationsRemoved.WithLabelValues(reason).Inc()
}

// Active sets the active-notification gauge.
func (m *Metrics) Active(n int) {
	if m == nil {
		return
	}
	m.NotificationsActive.Set(float64(n))
}

// Polled counts one poll and its skipped events.
func (m *Metrics) Polled(ok bool, skipped int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Polls.WithLabelValues(result).Inc()
	m.PollSkipped.Add(float64(skipped))
}

// ChannelStateChanged marks state as current among states.
func (m *Metrics) ChannelStateChanged(state string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.ChannelState.WithLabelValues(s).Set(0)
	}
	m.ChannelState.WithLabelValues(state).Set(1)
}

// FeedbackFailed counts one dispatch failure.
func (m *Metrics) FeedbackFailed() {
	if m == nil {
		return
	}
	m.FeedbackErrors.Inc()
}
