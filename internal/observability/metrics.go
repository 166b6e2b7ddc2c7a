package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainpilot"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	interactionsTotal   *prometheus.CounterVec
	interactionDuration prometheus.Histogram
	activeSessions      prometheus.Gauge
	sessionCreations    *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	providerCooldown *prometheus.GaugeVec

	reviewDecisions *prometheus.CounterVec
	claimsRecorded  *prometheus.CounterVec
	claimsNotified  *prometheus.CounterVec
	telegramCalls   *prometheus.CounterVec
	dedupeHits      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help, Buckets: prometheus.DefBuckets,
	}, labels)
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace, Name: "queue_size", Help: "Queued tasks by lane class.",
			}, []string{"lane"}),
			enqueueTotal: counterVec("queue_enqueue_total", "Enqueue operations by lane class.", "lane"),
			dequeueTotal: counterVec("queue_dequeue_total", "Completed tasks by lane class and status.", "lane", "status"),
			taskDuration: histogramVec("queue_task_duration_seconds", "Task run time by lane class.", "lane"),

			interactionsTotal: counterVec("interactions_total", "Handled interactions by terminal outcome.", "outcome"),
			interactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "interaction_duration_seconds",
				Help:      "End to end interaction time.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 180, 300},
			}),
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Name: "active_sessions", Help: "Agent sessions held in memory.",
			}),
			sessionCreations: counterVec("session_creations_total", "Session creation attempts by status.", "status"),

			toolExecutionTotal:    counterVec("tool_execution_total", "Tool executions by tool and status.", "tool", "status"),
			toolExecutionDuration: histogramVec("tool_execution_duration_seconds", "Tool execution time by tool.", "tool"),

			agentRunTotal:    counterVec("agent_run_total", "LLM calls by provider and status.", "provider", "status"),
			agentRunDuration: histogramVec("agent_run_duration_seconds", "LLM call time by provider.", "provider"),
			providerCooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace, Name: "provider_cooldown_active", Help: "1 while a provider profile is cooling down.",
			}, []string{"provider"}),

			reviewDecisions: counterVec("review_decisions_total", "Human review button presses by decision.", "decision"),
			claimsRecorded:  counterVec("claims_recorded_total", "Reward claims recorded by network and status.", "network", "status"),
			claimsNotified:  counterVec("claims_notified_total", "Matured claim notifications by status.", "status"),
			telegramCalls:   counterVec("telegram_calls_total", "Bot API calls by method and status.", "method", "status"),
			dedupeHits:      counterVec("dedupe_total", "Inbound events checked for duplicates by kind and result.", "kind", "result"),
		}

		prometheus.MustRegister(
			m.queueSize, m.enqueueTotal, m.dequeueTotal, m.taskDuration,
			m.interactionsTotal, m.interactionDuration, m.activeSessions, m.sessionCreations,
			m.toolExecutionTotal, m.toolExecutionDuration,
			m.agentRunTotal, m.agentRunDuration, m.providerCooldown,
			m.reviewDecisions, m.claimsRecorded, m.claimsNotified, m.telegramCalls, m.dedupeHits,
		)
		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordInteraction counts a finished interaction by its terminal outcome.
func RecordInteraction(outcome string, duration time.Duration) {
	m := getMetrics()
	m.interactionsTotal.WithLabelValues(outcome).Inc()
	m.interactionDuration.Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionCreation counts registry constructions; status is created,
// no_wallet or error.
func RecordSessionCreation(status string) {
	getMetrics().sessionCreations.WithLabelValues(status).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(v)
}

func RecordReviewDecision(decision string) {
	getMetrics().reviewDecisions.WithLabelValues(decision).Inc()
}

func RecordClaim(network string, success bool) {
	getMetrics().claimsRecorded.WithLabelValues(network, status(success)).Inc()
}

func RecordClaimNotification(success bool) {
	getMetrics().claimsNotified.WithLabelValues(status(success)).Inc()
}

func RecordTelegramCall(method string, success bool) {
	getMetrics().telegramCalls.WithLabelValues(method, status(success)).Inc()
}

// RecordDedupe counts inbound event checks; kind is update or callback.
func RecordDedupe(kind string, duplicate bool) {
	result := "fresh"
	if duplicate {
		result = "duplicate"
	}
	getMetrics().dedupeHits.WithLabelValues(kind, result).Inc()
}
