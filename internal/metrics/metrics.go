// Package metrics counts token lifecycle events and exposes them for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/authcore/internal/models"
)

const namespace = "authcore"

// Reasons a pair is issued
const (
	ReasonLogin   = "login"
	ReasonRefresh = "refresh"
)

// Metrics methods are safe to call on nil receiver, so services work without metrics
type Metrics struct {
	issued         *prometheus.CounterVec
	refreshFailed  *prometheus.CounterVec
	logouts        prometheus.Counter
	reuseDetected  prometheus.Counter
	sessionsFailed prometheus.Counter
}

// Create counters and register them in reg
// Registering twice in the same registry panics, use fresh registry in tests
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_pairs_issued_total",
			Help:      "Token pairs issued, by reason and principal kind.",
		}, []string{"reason", "kind"}),
		refreshFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Refresh attempts rejected, by failure kind.",
		}, []string{"reason"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Logout calls.",
		}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Rotated refresh tokens presented again while their family was alive; each revokes the family.",
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_sessions_failed_total",
			Help:      "Client side sessions ended by a failed refresh.",
		}),
	}

	reg.MustRegister(m.issued, m.refreshFailed, m.logouts, m.reuseDetected, m.sessionsFailed)

	return m
}

func (m *Metrics) PairIssued(reason string, kind models.Kind) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(reason, string(kind)).Inc()
}

func (m *Metrics) RefreshFailed(reason string) {
	if m == nil {
		return
	}
	m.refreshFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) LoggedOut() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) ReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.sessionsFailed.Inc()
}

// Handler serves metrics gathered by g in Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
