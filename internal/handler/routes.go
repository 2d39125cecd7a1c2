package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. m may be nil
// when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET(config.HealthzPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	// Every method is routed to the proxy so that it answers non-GET requests
	// with its own 405 body.
	e.Any(cfg.Proxy.Route, proxy.Handle)

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
