package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/orcoord/orcoord/internal/platform/metrics"
)

// Metrics records request counts and latency by route template, so
// /surgeries/:id is one series rather than one per surgery.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.ObserveHTTP(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
