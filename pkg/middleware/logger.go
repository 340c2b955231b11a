package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// Logger logs one line per request and records its latency. Pipeline triggers are
// long-running, so the line is written after the handler returns.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req, res := c.Request(), c.Response()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordAPIRequest(req.Method, route, res.Status, elapsed)

			ctx := req.Context()
			logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"run_id":        context.GetRunID(ctx),
				"method":        req.Method,
				"route":         route,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"response_time": elapsed.String(),
				"response_size": strconv.FormatInt(res.Size, 10),
			}).Info("Request")

			return nil
		}
	}
}
