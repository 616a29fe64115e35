package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"foodshare-proxy/internal/metrics"
)

// MetricsMiddleware records inbound request count, latency and in-flight
// gauge. Requests under proxyPrefix share one path label so that proxied
// paths cannot blow up label cardinality.
func MetricsMiddleware(m *metrics.Metrics, proxyPrefix string) echo.MiddlewareFunc {
	proxyPrefix = strings.TrimRight(proxyPrefix, "/")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			// An *echo.HTTPError has not been written yet; the central error
			// handler writes it after this middleware returns.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(statusCode),
				pathLabel(c.Request().URL.Path, proxyPrefix),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

func pathLabel(path, proxyPrefix string) string {
	if proxyPrefix != "" && isUnder(path, proxyPrefix) {
		return proxyPrefix
	}
	return metrics.NormalizePath(path)
}
