// Package metrics provides Prometheus metrics for wikicat.
// It tracks wiki API calls, enumeration progress, retries and MCP tool calls.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace for all metrics
const (
	Namespace = "wikicat"

	// JobName identifies CLI runs on a Pushgateway
	JobName = "wikicat_export"
)

var (
	// APIRequestsTotal counts wiki API requests by action and status
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "Total wiki API requests by action and status",
	}, []string{"action", "status"})

	// APILatency measures wiki API call latency
	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "api_latency_seconds",
		Help:      "Wiki API call latency by action",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"action"})

	// APIErrors counts wiki API errors by error code (HTTP status or MediaWiki code)
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_errors_total",
		Help:      "Wiki API errors by action and error code",
	}, []string{"action", "error_code"})

	// FetchRetries counts repeated page requests after a failed attempt
	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fetch_retries_total",
		Help:      "Page fetch retries by retry mode",
	}, []string{"mode"})

	// PagesFetched counts successfully fetched result pages
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "pages_fetched_total",
		Help:      "Category member result pages fetched",
	})

	// MembersFetched counts category members received from the API
	MembersFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "members_fetched_total",
		Help:      "Category members received from the wiki API",
	})

	// EnumerationDuration measures a full category enumeration
	EnumerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "enumeration_duration_seconds",
		Help:      "Duration of a complete category enumeration",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// ToolRequestsTotal counts MCP tool calls by tool name and status
	ToolRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tool_requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// ToolDuration measures MCP tool call latency
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "tool_duration_seconds",
		Help:      "MCP tool call latency distribution",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tool"})

	// ToolInFlight tracks currently executing tool calls
	ToolInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "tool_requests_in_flight",
		Help:      "Number of MCP tool calls currently being processed",
	}, []string{"tool"})

	// CacheHits counts enumeration cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "Total cache hit count",
	})

	// CacheMisses counts enumeration cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "Total cache miss count",
	})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})
)

// RecordAPICall records one wiki API request
func RecordAPICall(action string, duration float64, success bool, errorCode string) {
	status := "success"
	if !success {
		status = "error"
	}
	APIRequestsTotal.WithLabelValues(action, status).Inc()
	APILatency.WithLabelValues(action).Observe(duration)
	if errorCode != "" {
		APIErrors.WithLabelValues(action, errorCode).Inc()
	}
}

// RecordPage records a successfully fetched page of members
func RecordPage(members int) {
	PagesFetched.Inc()
	MembersFetched.Add(float64(members))
}

// RecordRetry records a repeated page request
func RecordRetry(mode string) {
	FetchRetries.WithLabelValues(mode).Inc()
}

// RecordToolCall records a completed MCP tool call with its duration and status
func RecordToolCall(tool string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ToolRequestsTotal.WithLabelValues(tool, status).Inc()
	ToolDuration.WithLabelValues(tool).Observe(duration)
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// Push sends the default registry to a Pushgateway. A CLI run is too short-lived
// to be scraped, so metrics are pushed once when it finishes.
func Push(gatewayURL, category string) error {
	err := push.New(gatewayURL, JobName).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("category", category).
		Push()
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
