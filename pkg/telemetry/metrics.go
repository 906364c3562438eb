package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator. All methods are
// safe to call on a disabled (no-op) instance.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Plan unit metrics
	planUnitsExecuted *prometheus.CounterVec
	planUnitDuration  *prometheus.HistogramVec

	// Azure API metrics
	azureCalls        *prometheus.CounterVec
	azureCallDuration *prometheus.HistogramVec
	azureErrors       *prometheus.CounterVec

	// RBAC propagation metrics
	rbacWaitDuration *prometheus.HistogramVec
	rbacWaitAttempts *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Drift detection metrics
	driftDetections *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When disabled, a no-op instance is returned.
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"phase"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"phase", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "status"},
		),

		planUnitsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_units_executed_total",
				Help:      "Total number of plan units executed",
			},
			[]string{"operation", "status"},
		),
		planUnitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_unit_duration_seconds",
				Help:      "Duration of plan unit execution in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "resource_type"},
		),

		azureCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "azure_api_calls_total",
				Help:      "Total number of Azure management API calls",
			},
			[]string{"service", "operation"},
		),
		azureCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "azure_api_call_duration_seconds",
				Help:      "Duration of Azure management API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"service", "operation"},
		),
		azureErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "azure_api_errors_total",
				Help:      "Total number of Azure management API errors",
			},
			[]string{"service", "operation", "status_code"},
		),

		rbacWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rbac_propagation_wait_seconds",
				Help:      "Time spent waiting for role assignments to propagate",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		rbacWaitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rbac_propagation_attempts_total",
				Help:      "Total number of RBAC propagation probe attempts",
			},
			[]string{"outcome"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"resource_type", "status"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.planUnitsExecuted,
		m.planUnitDuration,
		m.azureCalls,
		m.azureCallDuration,
		m.azureErrors,
		m.rbacWaitDuration,
		m.rbacWaitAttempts,
		m.errorsByClass,
		m.driftDetections,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(phase string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(phase).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(phase, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(phase, status).Inc()
	m.runDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordPlanUnitExecution records the execution of a plan unit.
func (m *Metrics) RecordPlanUnitExecution(operation, status, resourceType string, duration time.Duration) {
	if m.planUnitsExecuted == nil {
		return
	}
	m.planUnitsExecuted.WithLabelValues(operation, status).Inc()
	m.planUnitDuration.WithLabelValues(operation, resourceType).Observe(duration.Seconds())
}

// RecordAzureCall records an Azure management API call with its duration.
func (m *Metrics) RecordAzureCall(service, operation string, duration time.Duration) {
	if m.azureCalls == nil {
		return
	}
	m.azureCalls.WithLabelValues(service, operation).Inc()
	m.azureCallDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordAzureError records an Azure management API error.
func (m *Metrics) RecordAzureError(service, operation, statusCode string) {
	if m.azureErrors == nil {
		return
	}
	m.azureErrors.WithLabelValues(service, operation, statusCode).Inc()
}

// RecordRBACWait records an RBAC propagation wait with its outcome.
func (m *Metrics) RecordRBACWait(outcome string, duration time.Duration, attempts int) {
	if m.rbacWaitDuration == nil {
		return
	}
	m.rbacWaitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.rbacWaitAttempts.WithLabelValues(outcome).Add(float64(attempts))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordDriftDetection records a drift detection event.
func (m *Metrics) RecordDriftDetection(resourceType, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(resourceType, status).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer(log *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}
	}()

	return nil
}
