package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters/histograms for the
// ProviderRouter, CommandDispatcher, and ChainEngine plus the HTTP
// surface, each family owned by its subsystem.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerRotation *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	commandCalls    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	chainStepDuration *prometheus.HistogramVec
	chainRuns         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics instance with its own registry (never the
// global prometheus.DefaultRegisterer, so multiple Runtimes in the same
// process — e.g. in tests — never collide on metric registration).
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "provider", Name: "calls_total",
		Help: "Total number of provider inference calls attempted.",
	}, []string{"provider", "service"})

	m.providerRotation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "provider", Name: "rotations_total",
		Help: "Total number of provider rotations after a transient failure.",
	}, []string{"from_provider", "to_provider"})

	m.providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit", Subsystem: "provider", Name: "call_duration_seconds",
		Help: "Provider inference call duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider", "service"})

	m.commandCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "command", Name: "dispatches_total",
		Help: "Total number of command dispatches.",
	}, []string{"command"})

	m.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit", Subsystem: "command", Name: "dispatch_duration_seconds",
		Help: "Command dispatch duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"command"})

	m.commandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "command", Name: "errors_total",
		Help: "Total number of command dispatch errors.",
	}, []string{"command", "kind"})

	m.chainStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit", Subsystem: "chain", Name: "step_duration_seconds",
		Help: "Chain step execution duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"chain", "prompt_type"})

	m.chainRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "chain", Name: "runs_total",
		Help: "Total number of chain runs by terminal state.",
	}, []string{"chain", "state"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit", Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit", Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.registry.MustRegister(
		m.providerCalls, m.providerRotation, m.providerDuration,
		m.commandCalls, m.commandDuration, m.commandErrors,
		m.chainStepDuration, m.chainRuns,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordProviderCall observes one inference attempt's duration.
func (m *Metrics) RecordProviderCall(provider, service string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, service).Inc()
	m.providerDuration.WithLabelValues(provider, service).Observe(d.Seconds())
}

// RecordProviderRotation records one rotation from one provider candidate
// to the next within a single request.
func (m *Metrics) RecordProviderRotation(from, to string) {
	if m == nil {
		return
	}
	m.providerRotation.WithLabelValues(from, to).Inc()
}

// RecordCommandDispatch observes one CommandDispatcher.Run call.
func (m *Metrics) RecordCommandDispatch(command string, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.commandCalls.WithLabelValues(command).Inc()
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
	if errKind != "" {
		m.commandErrors.WithLabelValues(command, errKind).Inc()
	}
}

// RecordChainStep observes one chain step's execution duration.
func (m *Metrics) RecordChainStep(chain, promptType string, d time.Duration) {
	if m == nil {
		return
	}
	m.chainStepDuration.WithLabelValues(chain, promptType).Observe(d.Seconds())
}

// RecordChainRun records a chain run reaching a terminal state.
func (m *Metrics) RecordChainRun(chain, state string) {
	if m == nil {
		return
	}
	m.chainRuns.WithLabelValues(chain, state).Inc()
}

// RecordHTTPRequest observes one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns the HTTP handler for the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
