package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sqlagent"

var Metrics = struct {
	TasksTotal           *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	PipelineStepDuration *prometheus.HistogramVec
	TokensUsed           *prometheus.CounterVec
	LLMRequestsTotal     *prometheus.CounterVec
	LLMLatency           *prometheus.HistogramVec
	ErrorsTotal          *prometheus.CounterVec
	ActiveStreams        prometheus.Gauge
	ClientTurnsTotal     *prometheus.CounterVec
	JobRunsTotal         *prometheus.CounterVec
}{
	TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Total A2A tasks handled by method and final state.",
	}, []string{"method", "state"}),

	TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time from task submission to its final state.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"method"}),

	PipelineStepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_step_duration_seconds",
		Help:      "Duration of each SQL pipeline step.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"step"}),

	TokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_used_total",
		Help:      "Total tokens consumed by direction (input/output) and model.",
	}, []string{"direction", "model"}),

	LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Total LLM API requests by provider and model.",
	}, []string{"provider", "model"}),

	LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_latency_seconds",
		Help:      "LLM request latency in seconds, full response.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider", "model"}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),

	ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Number of open tasks/sendSubscribe event streams.",
	}),

	ClientTurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_turns_total",
		Help:      "Client turns by mode (stream/once) and outcome.",
	}, []string{"mode", "status"}),

	JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled maintenance job runs by job and result.",
	}, []string{"job", "result"}),
}
