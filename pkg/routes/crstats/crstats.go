package crstats

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/services/crsync"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type Runner interface {
	Run(ctx context.Context) (*crsync.Result, error)
}

type Handler struct {
	runner Runner
}

func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/cr-stats/sync", h.Sync)
}

// Sync stores today's and yesterday's conversion stats. The day is decided by the server clock.
func (h *Handler) Sync(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "crstats_handler.Sync")
	defer span.End()

	res, err := h.runner.Run(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
