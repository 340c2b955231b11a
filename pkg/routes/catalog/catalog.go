package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/services/catalogsync"
	domain "github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type Syncer interface {
	Run(ctx context.Context, opts catalogsync.Options) (*catalogsync.Result, error)
}

// SyncRequest carries an optional card batch. Without cards the marketplace is queried.
type SyncRequest struct {
	Cards           []json.RawMessage `json:"cards"`
	AllowRejections bool              `json:"allow_rejections"`
}

type Handler struct {
	syncer Syncer
}

func NewHandler(syncer Syncer) *Handler {
	return &Handler{syncer: syncer}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/catalog/sync", h.Sync)
}

func (h *Handler) Sync(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "catalog_handler.Sync")
	defer span.End()

	var req SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	res, err := h.syncer.Run(ctx, catalogsync.Options{
		Cards:           req.Cards,
		AllowRejections: req.AllowRejections,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return httperror.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("%d card(s) rejected, nothing was written", len(verr.Rejections))).
				AddMetaValue("run_id", res.RunID).
				AddMetaValue("rejections", verr.Rejections)
		}
		return err
	}

	return c.JSON(http.StatusOK, res)
}
