package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/model"
	"media-proxy-go/internal/service"
)

// Plain-text bodies of the proxy responses that do not come from the origin.
const (
	msgMethodNotAllowed = "Method Not Allowed"
	msgMissingURL       = "URL parameter is missing."
	msgHostNotAllowed   = "Target host is not allowed."
	msgUpstreamFailed   = "Failed to fetch the content from target."
	msgInternalError    = "Internal Proxy Server Error"
)

// signedParamPattern matches the signature query parameters of signed CDN URLs
// embedded in error messages.
var signedParamPattern = regexp.MustCompile(`(?i)([?&](?:token|sig|signature|x-amz-signature|policy|key-pair-id|hdnts|hdntl)=)[^&\s"]+`)

// ProxyHandler relays origin media resources named by the url query parameter.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the target resource and writes it back in one piece. Nothing
// is written to the client before the relay has either fully succeeded or failed.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	if req.Method != http.MethodGet {
		return c.String(http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}

	target := c.QueryParam("url")
	if target == "" {
		return c.String(http.StatusBadRequest, msgMissingURL)
	}

	resp, err := h.service.Relay(&model.ProxyRequest{
		Ctx:       req.Context(),
		TargetURL: target,
		Header:    req.Header,
	})
	if err != nil {
		return h.mapError(c, target, err)
	}

	if resp.Rewritten {
		h.logger.Debug("manifest rewritten",
			"url", sanitize(target),
			"bytes", len(resp.Body),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		// Headers are out already; the client gets a truncated body.
		h.logger.Error("writing response body",
			"err", err,
			"url", sanitize(target),
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, target string, err error) error {
	if errors.Is(err, service.ErrMissingURL) {
		return c.String(http.StatusBadRequest, msgMissingURL)
	}

	if errors.Is(err, service.ErrHostNotAllowed) {
		h.logger.Warn("target host rejected", "url", sanitize(target))
		return c.String(http.StatusForbidden, msgHostNotAllowed)
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		h.logger.Warn("origin request failed",
			"status", statusErr.StatusCode,
			"url", sanitize(target),
		)
		return c.String(statusErr.StatusCode, msgUpstreamFailed)
	}

	h.logger.Error("proxy error",
		"err", sanitize(err.Error()),
		"url", sanitize(target),
	)
	return c.String(http.StatusInternalServerError, msgInternalError)
}

// sanitize redacts URL signature parameters so signed origin links do not end up in logs.
func sanitize(s string) string {
	return signedParamPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
