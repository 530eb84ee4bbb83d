// Package metrics holds the Prometheus collectors of the conversation core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agora"

// Metrics groups the counters updated by the feed, timeline, read-state
// tracker and notification dispatcher.
type Metrics struct {
	FeedDeliveries      prometheus.Counter
	FeedReconnects      prometheus.Counter
	FeedReplayed        prometheus.Counter
	TimelineDuplicates  prometheus.Counter
	TimelineMalformed   prometheus.Counter
	ReadStateMarked     prometheus.Counter
	NotifyDispatched    prometheus.Counter
	NotifyFailures      prometheus.Counter
	ActiveSubscriptions prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeedDeliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "deliveries_total",
			Help: "Records delivered by realtime subscriptions.",
		}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "reconnects_total",
			Help: "Subscription streams re-established after a transport failure.",
		}),
		FeedReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "replayed_total",
			Help: "Records re-delivered from the store after a reconnect.",
		}),
		TimelineDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timeline", Name: "duplicates_total",
			Help: "Records ignored because their id was already merged.",
		}),
		TimelineMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timeline", Name: "malformed_total",
			Help: "Records dropped because they could not be normalized.",
		}),
		ReadStateMarked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "readstate", Name: "marked_total",
			Help: "Direct messages transitioned to read.",
		}),
		NotifyDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dispatched_total",
			Help: "Notifications stored after a successful send.",
		}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "failures_total",
			Help: "Notification dispatches that failed and were dropped.",
		}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "feed", Name: "active_subscriptions",
			Help: "Open realtime subscriptions.",
		}),
		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Inc increments c when the metrics set is enabled.
func (m *Metrics) Inc(c func(*Metrics) prometheus.Counter) {
	if m == nil {
		return
	}
	c(m).Inc()
}

// Add adds n to c when the metrics set is enabled.
func (m *Metrics) Add(c func(*Metrics) prometheus.Counter, n float64) {
	if m == nil {
		return
	}
	c(m).Add(n)
}

// SubscriptionOpened and SubscriptionClosed track ActiveSubscriptions.
func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.ActiveSubscriptions.Inc()
	}
}

func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.ActiveSubscriptions.Dec()
	}
}

// Selectors for Inc and Add.
func FeedDeliveries(m *Metrics) prometheus.Counter     { return m.FeedDeliveries }
func FeedReconnects(m *Metrics) prometheus.Counter     { return m.FeedReconnects }
func FeedReplayed(m *Metrics) prometheus.Counter       { return m.FeedReplayed }
func TimelineDuplicates(m *Metrics) prometheus.Counter { return m.TimelineDuplicates }
func TimelineMalformed(m *Metrics) prometheus.Counter  { return m.TimelineMalformed }
func ReadStateMarked(m *Metrics) prometheus.Counter    { return m.ReadStateMarked }
func NotifyDispatched(m *Metrics) prometheus.Counter   { return m.NotifyDispatched }
func NotifyFailures(m *Metrics) prometheus.Counter     { return m.NotifyFailures }
