package observability

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides the Prometheus series the composition root exposes on
// its dedicated metrics port: HTTP request totals/durations by operation,
// LLM request/duration/tokens/cost by model, circuit breaker state per
// model, session count and messages by role, scheduler job gauges and
// execution histories, DB query duration and pool state, per-error-type
// counters, and a resident memory gauge. Each series is a promauto-registered
// CounterVec, HistogramVec, or GaugeVec with a method for recording one event.
type Metrics struct {
	HTTPRequestCounter  *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LLMRequestCounter  *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec
	LLMCostUSD         *prometheus.CounterVec

	BreakerState *prometheus.GaugeVec

	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	SessionsActive   prometheus.Gauge
	MessagesByRole   *prometheus.CounterVec
	SessionsCreated  prometheus.Counter

	SchedulerJobsEnabled  prometheus.Gauge
	SchedulerJobsRunning  prometheus.Gauge
	SchedulerExecutions   *prometheus.CounterVec
	SchedulerRunDuration  *prometheus.HistogramVec

	DatabaseQueryDuration *prometheus.HistogramVec
	DatabaseQueryCounter  *prometheus.CounterVec
	DatabasePoolInUse     prometheus.Gauge
	DatabasePoolIdle      prometheus.Gauge

	ErrorCounter *prometheus.CounterVec

	ResidentMemoryBytes prometheus.GaugeFunc
}

// NewMetrics registers every series against the given registerer (pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry()
// in tests to avoid duplicate-registration panics across test cases).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_http_requests_total",
				Help: "Total HTTP requests by operation and status code.",
			},
			[]string{"operation", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_http_request_duration_seconds",
				Help:    "HTTP request latency by operation.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_llm_requests_total",
				Help: "Total LLM gateway requests by model and status.",
			},
			[]string{"model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_llm_request_duration_seconds",
				Help:    "LLM gateway request latency by model.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_llm_tokens_total",
				Help: "Total tokens consumed by model and direction (input|output).",
			},
			[]string{"model", "direction"},
		),
		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD by model.",
			},
			[]string{"model"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conclave_circuit_breaker_open",
				Help: "1 if the circuit breaker for a model alias is open, 0 otherwise.",
			},
			[]string{"model"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_tool_executions_total",
				Help: "Total tool executions by tool name and status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_tool_execution_duration_seconds",
				Help:    "Tool execution latency by tool name.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_sessions_active",
			Help: "Current number of active (non-ended) sessions.",
		}),
		MessagesByRole: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_messages_total",
				Help: "Total persisted messages by role.",
			},
			[]string{"role"},
		),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "conclave_sessions_created_total",
			Help: "Total sessions created.",
		}),

		SchedulerJobsEnabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_scheduler_jobs_enabled",
			Help: "Current number of enabled cron jobs.",
		}),
		SchedulerJobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_scheduler_jobs_running",
			Help: "Current number of cron jobs executing.",
		}),
		SchedulerExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_scheduler_executions_total",
				Help: "Total job executions by job id and outcome.",
			},
			[]string{"job_id", "outcome"},
		),
		SchedulerRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_scheduler_run_duration_seconds",
				Help:    "Job execution duration by job id.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job_id"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_database_query_duration_seconds",
				Help:    "Database query latency by operation and table.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),
		DatabaseQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_database_queries_total",
				Help: "Total database queries by operation, table, and status.",
			},
			[]string{"operation", "table", "status"},
		),
		DatabasePoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_database_pool_in_use",
			Help: "Current number of database connections in use.",
		}),
		DatabasePoolIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_database_pool_idle",
			Help: "Current number of idle database connections.",
		}),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_errors_total",
				Help: "Total errors by component and error kind.",
			},
			[]string{"component", "error_kind"},
		),
	}

	m.ResidentMemoryBytes = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conclave_process_resident_memory_bytes",
		Help: "Resident set size estimate, sampled from the Go runtime.",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Sys)
	})

	return m
}

// RecordLLMRequest records one gateway Complete/Stream call's outcome.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, inputTokens, outputTokens int, costUSD float64) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.LLMCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

// SetBreakerOpen records the circuit breaker state for a model alias.
func (m *Metrics) SetBreakerOpen(model string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.BreakerState.WithLabelValues(model).Set(v)
}

// RecordToolExecution records one Tool Executor dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordMessage records one persisted message row by role.
func (m *Metrics) RecordMessage(role string) {
	m.MessagesByRole.WithLabelValues(role).Inc()
}

// RecordHTTPRequest records one REST/WS request.
func (m *Metrics) RecordHTTPRequest(operation, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(operation, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordDatabaseQuery records one Session Store round trip.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordError increments the per-kind error counter.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordSchedulerExecution records one completed job run.
func (m *Metrics) RecordSchedulerExecution(jobID, outcome string, durationSeconds float64) {
	m.SchedulerExecutions.WithLabelValues(jobID, outcome).Inc()
	m.SchedulerRunDuration.WithLabelValues(jobID).Observe(durationSeconds)
}

// SetDBPoolStats reflects a *sql.DB's pool state.
func (m *Metrics) SetDBPoolStats(inUse, idle int) {
	m.DatabasePoolInUse.Set(float64(inUse))
	m.DatabasePoolIdle.Set(float64(idle))
}
