// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets. Segment fetches run longer than API calls, so the
// tail goes past 10s.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ResponseSize     *prometheus.HistogramVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ManifestRewrites *prometheus.CounterVec

	// knownPrefixes lists the allowed path label values (bounded cardinality).
	knownPrefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. route and metricsPath are the configured proxy and scrape paths;
// both become path label values next to the built-in endpoints.
func New(route, metricsPath string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		// Segments dominate the byte volume, so the buckets run up to 64MiB.
		ResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_proxy_http_response_size_bytes",
			Help:    "Size of response bodies written to clients.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"path_prefix"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_proxy_upstream_request_duration_seconds",
			Help:    "Origin fetch latency in seconds, up to response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_proxy_upstream_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		ManifestRewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_proxy_manifest_rewrites_total",
			Help: "Total manifest bodies rewritten, by rewriter.",
		}, []string{"rewriter"}),

		knownPrefixes: []string{route, metricsPath, "/healthz", "/proxy/status"},
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResponseSize,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ManifestRewrites,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
