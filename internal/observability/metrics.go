package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpagent"

type moduleMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimitedTotal    prometheus.Counter
	queriesInFlight     prometheus.Gauge

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentRunSteps    *prometheus.HistogramVec
	llmCallTotal     *prometheus.CounterVec

	toolCallTotal        *prometheus.CounterVec
	toolCallDuration     *prometheus.HistogramVec
	toolServersConnected prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "HTTP requests by route pattern, method and status code.",
				},
				[]string{"route", "method", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "http_request_duration_seconds",
					Help:      "HTTP request latency by route pattern.",
					Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
				},
				[]string{"route"},
			),
			rateLimitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rate_limited_total",
					Help:      "Queries rejected by the per-client rate limiter.",
				},
			),
			queriesInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queries_in_flight",
					Help:      "Agent runs currently executing.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Agent runs by provider and outcome.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration by provider.",
					Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
				},
				[]string{"provider"},
			),
			agentRunSteps: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_steps",
					Help:      "Reasoning steps used per agent run.",
					Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
				},
				[]string{"provider"},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_call_total",
					Help:      "LLM API calls by provider and outcome, retries included.",
				},
				[]string{"provider", "status"},
			),
			toolCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_call_total",
					Help:      "Tool invocations by server, tool and outcome.",
				},
				[]string{"server", "tool", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_call_duration_seconds",
					Help:      "Tool invocation latency by server.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"server"},
			),
			toolServersConnected: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "tool_servers_connected",
					Help:      "Tool servers with an open session.",
				},
			),
		}

		prometheus.MustRegister(
			m.httpRequestsTotal,
			m.httpRequestDuration,
			m.rateLimitedTotal,
			m.queriesInFlight,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunSteps,
			m.llmCallTotal,
			m.toolCallTotal,
			m.toolCallDuration,
			m.toolServersConnected,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func RecordRateLimited() {
	getMetrics().rateLimitedTotal.Inc()
}

// QueryStarted bumps the in-flight gauge; call the returned func when the run ends
func QueryStarted() func() {
	m := getMetrics()
	m.queriesInFlight.Inc()
	var once sync.Once
	return func() { once.Do(m.queriesInFlight.Dec) }
}

func RecordAgentRun(provider string, duration time.Duration, steps int, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, outcome(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentRunSteps.WithLabelValues(provider).Observe(float64(steps))
}

func RecordLLMCall(provider string, success bool) {
	getMetrics().llmCallTotal.WithLabelValues(provider, outcome(success)).Inc()
}

func RecordToolCall(server, tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolCallTotal.WithLabelValues(server, tool, outcome(success)).Inc()
	m.toolCallDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func SetToolServersConnected(n int) {
	getMetrics().toolServersConnected.Set(float64(n))
}
