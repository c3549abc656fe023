package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pawfinds"

// Metrics bundles the collectors shared by the API and the worker. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	chainTx        *prometheus.CounterVec
	chainEvents    *prometheus.CounterVec
	mailSent       *prometheus.CounterVec
	outboxDispatch *prometheus.CounterVec
	outboxDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the collectors on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_decisions_total",
			Help:      "Admin decisions applied to listings.",
		}, []string{"status"}),
		chainTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_tx_total",
			Help:      "addPet transactions by outcome.",
		}, []string{"result"}),
		chainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_events_total",
			Help:      "Contract events observed by the watcher.",
		}, []string{"event"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_sent_total",
			Help:      "Notification emails by template and outcome.",
		}, []string{"template", "result"}),
		outboxDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatch_total",
			Help:      "Outbox events handled by the dispatcher.",
		}, []string{"event_type", "result"}),
		outboxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_dispatch_duration_seconds",
			Help:      "Time spent handling a single outbox event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.decisions,
		m.chainTx,
		m.chainEvents,
		m.mailSent,
		m.outboxDispatch,
		m.outboxDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) IncDecision(status string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncChainTx(result string) {
	if m == nil || m.chainTx == nil {
		return
	}
	m.chainTx.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncChainEvent(event string) {
	if m == nil || m.chainEvents == nil {
		return
	}
	m.chainEvents.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncMail(template, result string) {
	if m == nil || m.mailSent == nil {
		return
	}
	m.mailSent.WithLabelValues(normalizeLabel(template), normalizeLabel(result)).Inc()
}

// ObserveDispatch records one outbox handling attempt.
func (m *Metrics) ObserveDispatch(eventType, result string, took time.Duration) {
	if m == nil || m.outboxDispatch == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.outboxDispatch.WithLabelValues(eventType, normalizeLabel(result)).Inc()
	m.outboxDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

// ObserveHTTP records one served request. route should be the chi pattern,
// not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
