package relay

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "chat_relay"

// outcome labels how a chat request ended.
type outcome string

const (
	outcomeStreamed       outcome = "streamed"
	outcomeStreamError    outcome = "stream_error"
	outcomeConnectError   outcome = "connect_error"
	outcomeInvalidRequest outcome = "invalid_request"
	outcomeClientGone     outcome = "client_gone"
)

// Metrics records relay activity in a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	chunks     prometheus.Counter
	malformed  prometheus.Counter
	firstChunk prometheus.Histogram
}

// NewMetrics registers the relay metrics on registry, or on a new registry when nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_total",
			Help:      "Text chunks relayed to clients.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_units_total",
			Help:      "Upstream stream units skipped because they could not be decoded.",
		}),
		firstChunk: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "first_chunk_seconds",
			Help:      "Time from request arrival to the first relayed chunk.",
			// LLM time-to-first-token, 50ms - 30s
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}

	// Pre-create every outcome so rates start at zero instead of being absent
	for _, o := range []outcome{outcomeStreamed, outcomeStreamError, outcomeConnectError, outcomeInvalidRequest, outcomeClientGone} {
		m.requests.WithLabelValues(string(o))
	}

	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) observeRequest(o outcome) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeChunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) observeMalformedUnit() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) observeFirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.firstChunk.Observe(d.Seconds())
}
