package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/routes/advstats"
	"github.com/Ramsey-B/clover/pkg/routes/catalog"
	"github.com/Ramsey-B/clover/pkg/routes/crstats"
)

// Register mounts the control surface: health checks, /metrics and the pipeline triggers under /api/v1.
func Register(e *echo.Echo, checker *health.Checker, syncer catalog.Syncer, runner advstats.Runner, crRunner crstats.Runner) {
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	catalog.NewHandler(syncer).Register(api)
	advstats.NewHandler(runner).Register(api)
	crstats.NewHandler(crRunner).Register(api)
}
