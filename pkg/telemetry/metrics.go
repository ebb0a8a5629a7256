package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the engine. Every method is safe to
// call on a nil *Metrics.
type Metrics struct {
	config MetricsConfig

	// Invocation metrics
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	timeouts           *prometheus.CounterVec
	activeInvocations  prometheus.Gauge

	// Node metrics
	nodeCalls    *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	// Compile metrics
	stitches           *prometheus.CounterVec
	stitchDuration     *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	deadNodes          *prometheus.GaugeVec

	variableMutations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of operation invocations",
			},
			[]string{"operation", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of operation invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_timeouts_total",
				Help:      "Total number of invocations that exceeded their deadline",
			},
			[]string{"operation"},
		),
		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Current number of running invocations",
			},
		),

		nodeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_calls_total",
				Help:      "Total number of node function calls",
			},
			[]string{"operation", "kind", "mode", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_call_duration_seconds",
				Help:      "Duration of node function calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "kind"},
		),

		stitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stitches_total",
				Help:      "Total number of operation compilations",
			},
			[]string{"operation", "status"},
		),
		stitchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stitch_duration_seconds",
				Help:      "Duration of operation compilation in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of operations rejected at load time",
			},
			[]string{"operation", "code"},
		),
		deadNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dead_nodes",
				Help:      "Number of nodes not reachable from the output node",
			},
			[]string{"operation"},
		),

		variableMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variable_mutations_total",
				Help:      "Total number of variable updates",
			},
			[]string{"operation", "status"},
		),
	}

	registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.timeouts,
		m.activeInvocations,
		m.nodeCalls,
		m.nodeDuration,
		m.stitches,
		m.stitchDuration,
		m.validationFailures,
		m.deadNodes,
		m.variableMutations,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Invocation Metrics

// InvocationStarted increments the active invocation gauge.
func (m *Metrics) InvocationStarted() {
	if !m.enabled() {
		return
	}
	m.activeInvocations.Inc()
}

// RecordInvocation records a finished invocation with its status and duration.
func (m *Metrics) RecordInvocation(operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.invocations.WithLabelValues(operation, status).Inc()
	m.invocationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeInvocations.Dec()
}

// RecordTimeout records an invocation that exceeded its deadline.
func (m *Metrics) RecordTimeout(operation string) {
	if !m.enabled() {
		return
	}
	m.timeouts.WithLabelValues(operation).Inc()
}

// Node Metrics

// RecordNodeCall records a node function call.
func (m *Metrics) RecordNodeCall(operation, kind, mode, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodeCalls.WithLabelValues(operation, kind, mode, status).Inc()
	m.nodeDuration.WithLabelValues(operation, kind).Observe(duration.Seconds())
}

// Compile Metrics

// RecordStitch records an operation compilation.
func (m *Metrics) RecordStitch(operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stitches.WithLabelValues(operation, status).Inc()
	m.stitchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordValidationFailure records an operation rejected at load time.
func (m *Metrics) RecordValidationFailure(operation, code string) {
	if !m.enabled() {
		return
	}
	m.validationFailures.WithLabelValues(operation, code).Inc()
}

// SetDeadNodes sets the number of dead nodes of an operation.
func (m *Metrics) SetDeadNodes(operation string, count int) {
	if !m.enabled() {
		return
	}
	m.deadNodes.WithLabelValues(operation).Set(float64(count))
}

// RecordVariableMutation records a variable update.
func (m *Metrics) RecordVariableMutation(operation, status string) {
	if !m.enabled() {
		return
	}
	m.variableMutations.WithLabelValues(operation, status).Inc()
}

// Registry returns the underlying Prometheus registry, nil when metrics are
// disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Router returns a router serving the metrics endpoint and a health check.
func (m *Metrics) Router() http.Handler {
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(path, m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// StartMetricsServer serves the metrics router until ctx is cancelled. It
// returns immediately when metrics are disabled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}
