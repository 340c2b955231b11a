package middleware

import (
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderRunID lets a scheduler correlate a triggered run with its own logs.
const HeaderRunID = "X-Run-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			runID := req.Header.Get(HeaderRunID)
			if runID == "" {
				runID = requestID
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetRunID(ctx, runID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())

			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
