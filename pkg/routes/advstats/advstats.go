package advstats

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/services/advsync"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var validate = validator.New()

type Runner interface {
	Ingest(ctx context.Context, from, to *time.Time) (*advsync.IngestResult, error)
	Aggregate(ctx context.Context, from, to *time.Time) (*advsync.AggregateResult, error)
}

// RangeRequest bounds a run by inclusive YYYY-MM-DD dates. Both are optional.
type RangeRequest struct {
	DateFrom string `json:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo   string `json:"date_to" validate:"omitempty,datetime=2006-01-02"`
}

type RunResponse struct {
	RunID    string `json:"run_id"`
	Affected int    `json:"affected"`
	Details  any    `json:"details,omitempty"`
}

type Handler struct {
	runner Runner
}

func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/adv-stats/ingest", h.Ingest)
	g.POST("/adv-params/aggregate", h.Aggregate)
}

func (h *Handler) Ingest(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "advstats_handler.Ingest")
	defer span.End()

	from, to, err := bindRange(c)
	if err != nil {
		return err
	}

	res, err := h.runner.Ingest(ctx, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunResponse{RunID: res.RunID, Affected: res.Affected, Details: res})
}

func (h *Handler) Aggregate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "advstats_handler.Aggregate")
	defer span.End()

	from, to, err := bindRange(c)
	if err != nil {
		return err
	}

	res, err := h.runner.Aggregate(ctx, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunResponse{RunID: res.RunID, Affected: res.Affected(), Details: res.Report})
}

func bindRange(c echo.Context) (*time.Time, *time.Time, error) {
	var req RangeRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	from, err := parseDate(req.DateFrom)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseDate(req.DateTo)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid date %q", s)
	}
	return &t, nil
}
