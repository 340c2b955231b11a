package catalogsync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/catalog"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const pipeline = "catalog_sync"

// CardSource pulls the full card list from the marketplace.
type CardSource interface {
	ContentCards(ctx context.Context) ([]json.RawMessage, error)
}

type ChangeEmitter interface {
	EmitProductChanges(ctx context.Context, report *catalog.ReconcileReport) (int, error)
}

type Config struct {
	ExclusionsPath  string
	HaltOnRejection bool
}

// Options tune a single run. Nil Cards means fetch from the marketplace.
type Options struct {
	Cards          []json.RawMessage
	ExclusionsPath string
	// AllowRejections persists the accepted cards even when some were rejected.
	AllowRejections bool
}

type Result struct {
	RunID      string                   `json:"run_id"`
	Received   int                      `json:"received"`
	Accepted   int                      `json:"accepted"`
	Excluded   int                      `json:"excluded"`
	Rejections []catalog.Rejection      `json:"rejections"`
	Warnings   []catalog.Warning        `json:"warnings"`
	Report     *catalog.ReconcileReport `json:"report,omitempty"`
	Events     int                      `json:"events"`
	Affected   int                      `json:"affected"`
}

// Failed reports whether any entity could not be merged.
func (r *Result) Failed() bool {
	return r.Report != nil && r.Report.Totals.FailedEntities > 0
}

type Service struct {
	config     Config
	source     CardSource
	validator  *catalog.Validator
	reconciler *catalog.Reconciler
	emitter    ChangeEmitter
	logger     ectologger.Logger
}

// NewService wires the catalog pipeline. source and emitter may be nil.
func NewService(cfg Config, source CardSource, store catalog.ProductStore, emitter ChangeEmitter, logger ectologger.Logger) *Service {
	return &Service{
		config:     cfg,
		source:     source,
		validator:  catalog.NewValidator(logger),
		reconciler: catalog.NewReconciler(store, logger),
		emitter:    emitter,
		logger:     logger,
	}
}

// Run validates, filters and merges one batch of cards. A rejected card halts the run
// before anything is written unless the run allows rejections; the returned error is
// then a *catalog.ValidationError. Per-entity merge failures do not fail the run and
// are reported through Result.Failed.
func (s *Service) Run(ctx context.Context, opts Options) (res *Result, err error) {
	if appctx.GetRunID(ctx) == "" {
		ctx = appctx.SetRunID(ctx, uuid.New().String())
	}
	ctx, span := tracing.StartSpan(ctx, "catalogsync.Service.Run")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveRun(pipeline, start, err) }()

	res = &Result{RunID: appctx.GetRunID(ctx)}

	cards := opts.Cards
	if cards == nil {
		if s.source == nil {
			return res, httperror.NewHTTPError(http.StatusBadRequest, "no cards supplied and no marketplace client configured")
		}
		cards, err = s.source.ContentCards(ctx)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to fetch content cards")
			return res, err
		}
	}
	res.Received = len(cards)

	validation := s.validator.DecodeAndValidate(ctx, cards)
	res.Rejections = validation.Rejections
	res.Warnings = validation.Warnings
	metrics.CatalogRejectionsTotal.Add(float64(len(validation.Rejections)))

	if len(validation.Rejections) > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"received": res.Received,
			"rejected": len(validation.Rejections),
		}).Warn("Catalog batch has rejected cards")
		if s.config.HaltOnRejection && !opts.AllowRejections {
			return res, validation.Err()
		}
	}

	path := opts.ExclusionsPath
	if path == "" {
		path = s.config.ExclusionsPath
	}
	excluded, err := catalog.LoadExclusions(path)
	if err != nil {
		return res, err
	}
	accepted := catalog.FilterExcluded(validation.Accepted, excluded)
	res.Accepted = len(accepted)
	res.Excluded = len(validation.Accepted) - len(accepted)

	report, err := s.reconciler.Reconcile(ctx, accepted)
	res.Report = report
	if report != nil {
		res.Affected = report.Totals.Affected()
		recordTotals(report.Totals)
	}
	if err != nil {
		return res, err
	}

	if s.emitter != nil {
		n, emitErr := s.emitter.EmitProductChanges(ctx, report)
		res.Events = n
		if emitErr != nil {
			s.logger.WithContext(ctx).WithError(emitErr).Error("Failed to publish product change events")
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"received": res.Received,
		"accepted": res.Accepted,
		"excluded": res.Excluded,
		"rejected": len(res.Rejections),
		"warnings": len(res.Warnings),
		"affected": res.Affected,
		"failed":   report.Totals.FailedEntities,
		"events":   res.Events,
	}).Info("Catalog sync finished")

	return res, nil
}

func recordTotals(t catalog.Totals) {
	metrics.CatalogEntitiesTotal.WithLabelValues("product", "inserted").Add(float64(t.ProductsInserted))
	metrics.CatalogEntitiesTotal.WithLabelValues("product", "updated").Add(float64(t.ProductsUpdated))
	metrics.CatalogEntitiesTotal.WithLabelValues("product", "unchanged").Add(float64(t.ProductsUnchanged))
	metrics.CatalogEntitiesTotal.WithLabelValues("size", "inserted").Add(float64(t.SizesInserted))
	metrics.CatalogEntitiesTotal.WithLabelValues("size", "updated").Add(float64(t.SizesUpdated))
	metrics.CatalogEntitiesTotal.WithLabelValues("size", "unchanged").Add(float64(t.SizesUnchanged))
	metrics.CatalogEntitiesTotal.WithLabelValues("product", "failed").Add(float64(t.FailedEntities))
}
