// Package observability exposes the service's Prometheus metrics and
// health endpoints.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthagent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthagent_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Exchange metrics
	exchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthagent_exchanges_total",
			Help: "Total number of question/answer exchanges",
		},
		[]string{"status"},
	)

	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthagent_exchange_duration_seconds",
			Help:    "Exchange duration in seconds, prompt to commit",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	exchangeTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthagent_exchange_tokens_total",
			Help: "Total tokens consumed by exchanges",
		},
		[]string{"direction"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthagent_tool_calls_total",
			Help: "Total number of tool calls issued by the model",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthagent_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Retrieval metrics
	retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthagent_retrieval_duration_seconds",
			Help:    "Knowledge retrieval duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Ledger metrics
	ledgerAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthagent_ledger_appends_total",
			Help: "Total number of exchange appends to the ledger",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			exchangesTotal,
			exchangeDuration,
			exchangeTokens,
			toolCallsTotal,
			toolCallDuration,
			retrievalDuration,
			ledgerAppendsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordExchange records one finished exchange.
func RecordExchange(status string, duration time.Duration, inputTokens, outputTokens int) {
	exchangesTotal.WithLabelValues(status).Inc()
	exchangeDuration.WithLabelValues(status).Observe(duration.Seconds())
	exchangeTokens.WithLabelValues("input").Add(float64(inputTokens))
	exchangeTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordToolCall records one model-issued tool call.
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRetrieval records one knowledge retrieval.
func RecordRetrieval(status string, duration time.Duration) {
	retrievalDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLedgerAppend records one exchange append.
func RecordLedgerAppend(status string) {
	ledgerAppendsTotal.WithLabelValues(status).Inc()
}
