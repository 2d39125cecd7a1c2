package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and response size for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			path := m.NormalizePath(c.Request().URL.Path)
			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(responseStatus(c, err)),
				path,
			}

			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(elapsed)
			if c.Response().Committed {
				m.ResponseSize.WithLabelValues(path).Observe(float64(c.Response().Size))
			}

			return err
		}
	}
}

// responseStatus is the status the client ends up with. A returned error is
// only written by the central error handler after the middleware chain has
// unwound, so it has to be derived from the error itself.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
