// ABOUTME: Prometheus collectors for live sessions, inbound actions, broadcast fan-out and uploads
// ABOUTME: Also observes the broadcaster so publish and eviction counts need no extra wiring

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/tandem/internal/conversation"
)

const namespace = "tandem"

// Session outcomes.
const (
	SessionAccepted     = "accepted"
	SessionUnauthorized = "unauthenticated"
	SessionForbidden    = "forbidden"
	SessionFailed       = "failed"
)

// Action results.
const (
	ActionApplied     = "applied"
	ActionDenied      = "denied"
	ActionInvalid     = "invalid"
	ActionRateLimited = "rate_limited"
	ActionCoalesced   = "coalesced"
)

// Metrics holds every collector tandem exports.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec // by outcome
	ActionsTotal     *prometheus.CounterVec // by action, result
	EventsPublished  *prometheus.CounterVec // by type
	EventDeliveries  prometheus.Counter
	SubscriberEvicts prometheus.Counter
	UploadBytes      prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live WebSocket sessions subscribed to a thread.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "WebSocket connection attempts by outcome.",
		}, []string{"outcome"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Inbound session actions by action and result.",
		}, []string{"action", "result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to thread groups by type.",
		}, []string{"type"}),
		EventDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Events handed to subscriber buffers.",
		}),
		SubscriberEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_evictions_total",
			Help:      "Subscribers dropped because their buffer was full.",
		}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of stored attachments.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.SessionsTotal,
			m.ActionsTotal,
			m.EventsPublished,
			m.EventDeliveries,
			m.SubscriberEvicts,
			m.UploadBytes,
		)
	}
	return m
}

// EventPublished implements conversation.Observer.
func (m *Metrics) EventPublished(threadID string, event conversation.Event, recipients int) {
	m.EventsPublished.WithLabelValues(string(event.Kind())).Inc()
	m.EventDeliveries.Add(float64(recipients))
}

// SubscriberEvicted implements conversation.Observer.
func (m *Metrics) SubscriberEvicted(threadID, sessionID string) {
	m.SubscriberEvicts.Inc()
}

// Session records a connection attempt outcome.
func (m *Metrics) Session(outcome string) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// Action records the result of one inbound action.
func (m *Metrics) Action(action, result string) {
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}
