package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Coordinator ─────────────────────────────────────────────────────────────

	CoordinatorRequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "requests_submitted_total",
		Help:      "Total requests accepted by submit.",
	})

	CoordinatorRequestsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "requests_finished_total",
		Help:      "Total requests reaching a terminal status, labelled by status.",
	}, []string{"status"})

	CoordinatorRequestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "request_duration_seconds",
		Help:      "Submit-to-terminal request latency in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	CoordinatorTasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "tasks_dispatched_total",
		Help:      "Total task envelopes published to role topics.",
	}, []string{"role"})

	CoordinatorRepliesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "replies_received_total",
		Help:      "Total reply envelopes consumed, labelled by role and outcome.",
	}, []string{"role", "outcome"})

	CoordinatorStaleReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "stale_replies_total",
		Help:      "Replies discarded by the staleness check.",
	}, []string{"role"})

	CoordinatorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "task_timeouts_total",
		Help:      "Task timeout timer expirations.",
	}, []string{"role"})

	CoordinatorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "task_retries_total",
		Help:      "Task re-dispatch attempts after failure or timeout.",
	}, []string{"role"})

	CoordinatorRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "rate_limited_total",
		Help:      "Submissions rejected by the rate limiter.",
	})

	CoordinatorLedgerRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "multicoder",
		Subsystem: "coordinator",
		Name:      "ledger_requests",
		Help:      "Requests currently held in the ledger.",
	})

	// ─── Agent ───────────────────────────────────────────────────────────────────

	AgentInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "multicoder",
		Subsystem: "agent",
		Name:      "invocations_total",
		Help:      "Capability invocations, labelled by role and outcome.",
	}, []string{"role", "outcome"})

	AgentInvocationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "multicoder",
		Subsystem: "agent",
		Name:      "invocation_duration_seconds",
		Help:      "Capability execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"role"})

	AgentTasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "multicoder",
		Subsystem: "agent",
		Name:      "tasks_inflight",
		Help:      "Tasks currently being executed by this agent.",
	}, []string{"role"})
)
