// Package client provides the outbound HTTP client used to fetch origin resources.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
)

// OriginClient fetches media resources from origin servers.
type OriginClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOriginClient creates an OriginClient. A zero upstream timeout leaves the
// client without a deadline; the inbound request context still bounds every fetch.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		IdleConnTimeout: 90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &OriginClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "origin_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the origin. The returned body is already
// decoded from any content-encoding. The caller is responsible for closing it.
func (c *OriginClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("origin request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("origin request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	body, decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode origin body: %w", err)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Decoded:    decoded || resp.Uncompressed,
	}, nil
}

// Fetch issues a GET for target with the given headers. The context controls
// the lifetime of the origin request: when the inbound client disconnects,
// the fetch is canceled as well.
func (c *OriginClient) Fetch(ctx context.Context, target string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
