// Package service implements the core proxy relay logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ryanuber/go-glob"

	"media-proxy-go/internal/client"
	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
	"media-proxy-go/internal/rewrite"
)

var (
	// ErrMissingURL is returned when the request carries no target URL.
	ErrMissingURL = errors.New("url parameter is missing")
	// ErrHostNotAllowed is returned when the target host matches none of upstream.allowed_hosts.
	ErrHostNotAllowed = errors.New("target host is not allowed")
)

// UpstreamStatusError reports a non-2xx origin response. Its status code is
// relayed to the caller as is.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("origin responded with status %d", e.StatusCode)
}

// droppedResponseHeaders are origin response headers never relayed to the caller.
var droppedResponseHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Server":            true,
	"Content-Encoding":  true,
	"X-Request-Id":      true, // set by the proxy's own request ID middleware
}

// Content type markers, matched as lower-case substrings.
var (
	textMarkers     = []string{"mpegurl", "dash+xml", "text", "json"}
	manifestMarkers = []string{"mpegurl", "dash+xml"}
)

// ProxyService fetches one origin resource per request and prepares it for relay.
type ProxyService struct {
	client   *client.OriginClient
	rewriter rewrite.Rewriter
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.OriginClient, rw rewrite.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		rewriter: rw,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Relay fetches pr.TargetURL and returns the fully buffered response to send
// back, with manifest references rewritten to go through the proxy.
func (s *ProxyService) Relay(pr *model.ProxyRequest) (*model.RelayResponse, error) {
	if pr.TargetURL == "" {
		return nil, ErrMissingURL
	}
	if !s.isAllowedHost(pr.TargetURL) {
		return nil, ErrHostNotAllowed
	}

	resp, err := s.client.Fetch(pr.Ctx, pr.TargetURL, filterRequestHeaders(pr.Header))
	if err != nil {
		return nil, fmt.Errorf("fetch origin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}

	out := &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Body:       raw,
	}

	// Only text bodies are candidates for rewriting; everything else is
	// relayed byte for byte.
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	isText := containsAny(contentType, textMarkers)
	changed := false

	if isText && containsAny(contentType, manifestMarkers) {
		// Go strings hold arbitrary bytes, so the text view of the body is lossless.
		text := string(raw)
		s.logger.Debug("rewriting manifest", "rewriter", s.rewriter.Name(), "content_type", contentType)
		rewritten := s.rewriter.Rewrite(text, rewrite.BaseURL(pr.TargetURL))
		out.Rewritten = true
		if rewritten != text {
			out.Body = []byte(rewritten)
			changed = true
		}
		if s.metrics != nil {
			s.metrics.ManifestRewrites.WithLabelValues(s.rewriter.Name()).Inc()
		}
	}

	out.Header = s.filterResponseHeaders(resp.Header, len(out.Body), !resp.Decoded && !changed)

	return out, nil
}

// isAllowedHost checks the target against upstream.allowed_hosts. An empty
// list allows every host.
func (s *ProxyService) isAllowedHost(target string) bool {
	if len(s.cfg.Upstream.AllowedHosts) == 0 {
		return true
	}

	u, err := url.Parse(target)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, pattern := range s.cfg.Upstream.AllowedHosts {
		if glob.Glob(strings.ToLower(pattern), host) {
			return true
		}
	}
	return false
}

// filterRequestHeaders copies the inbound headers except Host, which the
// outbound client derives from the target URL.
func filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header, bodyLen int, unchanged bool) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if droppedResponseHeaders[ck] || ck == "Content-Length" {
			continue
		}
		if s.cfg.Server.CORS.Enabled && strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		dst[ck] = vals
	}

	switch {
	case s.cfg.Proxy.RecomputeContentLength:
		dst.Set("Content-Length", strconv.Itoa(bodyLen))
	case unchanged:
		if vals := src.Values("Content-Length"); len(vals) > 0 {
			dst["Content-Length"] = vals
		}
	}

	return dst
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
