package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for lobby servers and the
// directory service. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	lobbiesActive         prometheus.Gauge
	participantsConnected prometheus.Gauge
	sessionsStarted       prometheus.Counter
	transitionsRejected   prometheus.Counter
	requestsRejected      *prometheus.CounterVec
	advertOps             *prometheus.CounterVec
	advertsLost           prometheus.Counter

	httpRequests prometheus.Counter
	httpErrors   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lobbiesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "party_lobbies_active",
			Help: "Number of lobbies with a live coordinator",
		}),
		participantsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "party_participants_connected",
			Help: "Number of connected participants across all lobbies, host included",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "party_sessions_started_total",
			Help: "Sessions that passed the start gate and began a transition",
		}),
		transitionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "party_transitions_rejected_total",
			Help: "Scene loads rejected by the replication layer",
		}),
		requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "party_requests_rejected_total",
			Help: "Participant requests rejected by the coordinator",
		}, []string{"reason"}),
		advertOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "party_advert_ops_total",
			Help: "Directory operations issued by lobbies",
		}, []string{"op", "result"}),
		advertsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "party_adverts_lost_total",
			Help: "Advertisements dropped after a failed heartbeat",
		}),
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "party_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "party_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	m.registry.MustRegister(
		m.lobbiesActive,
		m.participantsConnected,
		m.sessionsStarted,
		m.transitionsRejected,
		m.requestsRejected,
		m.advertOps,
		m.advertsLost,
		m.httpRequests,
		m.httpErrors,
	)
	return m
}

func (m *Metrics) LobbyOpened() { m.lobbiesActive.Inc() }
func (m *Metrics) LobbyClosed() { m.lobbiesActive.Dec() }

func (m *Metrics) ParticipantConnected()    { m.participantsConnected.Inc() }
func (m *Metrics) ParticipantDisconnected() { m.participantsConnected.Dec() }

func (m *Metrics) SessionStarted()     { m.sessionsStarted.Inc() }
func (m *Metrics) TransitionRejected() { m.transitionsRejected.Inc() }

// RequestRejected counts a refused participant request by reason
// ("not_host", "gate_closed", "room_full", ...).
func (m *Metrics) RequestRejected(reason string) {
	m.requestsRejected.WithLabelValues(reason).Inc()
}

// AdvertOp counts a directory call; result is "ok" or "error".
func (m *Metrics) AdvertOp(op, result string) {
	m.advertOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AdvertLost() { m.advertsLost.Inc() }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.httpRequests.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.httpErrors.Inc() }

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
