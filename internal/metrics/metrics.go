// Package metrics holds the Prometheus collectors for the chat engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets covers model latencies from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ChatRequestsTotal counts orchestrated chat requests by mode and outcome.
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_chat_requests_total",
			Help: "Chat requests",
		},
		[]string{"mode", "outcome"}, // mode: sync|stream; outcome: ok|cached|incomplete|error|aborted
	)

	// ChatDuration records end-to-end request latency.
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veil_chat_duration_seconds",
			Help:    "Chat request duration",
			Buckets: LLMBuckets,
		},
		[]string{"mode"},
	)

	// CacheOpsTotal counts cache operations by result.
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_cache_operations_total",
			Help: "Cache operations",
		},
		[]string{"op", "result"}, // op: get|set; result: hit|miss|ok|error
	)

	// TierSelectionsTotal counts model tier decisions.
	TierSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_tier_selections_total",
			Help: "Model tier selections",
		},
		[]string{"tier"},
	)

	// ModelRequestsTotal counts provider calls.
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_model_requests_total",
			Help: "Model provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ModelLatency records provider latency in seconds.
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veil_model_latency_seconds",
			Help:    "Model provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ModelTokensTotal counts tokens by direction (input/output).
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_model_tokens_total",
			Help: "Model token usage",
		},
		[]string{"model", "direction"},
	)

	// ToolDispatchTotal counts tool dispatches by name and outcome.
	ToolDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_tool_dispatch_total",
			Help: "Tool dispatches",
		},
		[]string{"tool", "status"}, // status: ok|error|not_found|invalid|timeout
	)

	// ToolRounds records how many tool rounds a request needed.
	ToolRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veil_tool_rounds",
			Help:    "Tool rounds per request",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	// StreamsActive tracks in-flight streamed replies.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "veil_streams_active",
			Help: "Active streamed replies",
		},
	)

	// HTTPRequestsTotal counts gateway requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veil_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records gateway request duration.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veil_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ChatRequestsTotal,
		ChatDuration,
		CacheOpsTotal,
		TierSelectionsTotal,
		ModelRequestsTotal,
		ModelLatency,
		ModelTokensTotal,
		ToolDispatchTotal,
		ToolRounds,
		StreamsActive,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// StatusClass renders an HTTP status as "2xx", "4xx" and so on.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
