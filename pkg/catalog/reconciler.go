package catalog

import (
	"context"
	"errors"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ProductStore persists products and sizes keyed on their natural merge keys.
// Implementations must never change the id or serial of an existing row, and must
// resolve a concurrent insert on the merge key into an update of the surviving row.
type ProductStore interface {
	UpsertProduct(ctx context.Context, product models.Product) (models.UpsertResult, error)
	ProductIDsByNmID(ctx context.Context, nmIDs []int64) (map[int64]uuid.UUID, error)
	UpsertProductSize(ctx context.Context, size models.ProductSize) (models.UpsertResult, error)
}

type Stage string

const (
	StageProduct Stage = "product"
	StageSizes   Stage = "sizes"
	StageDone    Stage = "done"
)

// EntityOutcome is the result of merging one card. Stage is the last stage reached;
// a non-nil Err means the stage failed and can be re-run safely.
type EntityOutcome struct {
	NmID           int64          `json:"nm_id"`
	ProductID      uuid.UUID      `json:"product_id,omitempty"`
	Stage          Stage          `json:"stage"`
	Product        models.Outcome `json:"product"`
	SizesInserted  int            `json:"sizes_inserted"`
	SizesUpdated   int            `json:"sizes_updated"`
	SizesUnchanged int            `json:"sizes_unchanged"`
	SizesFailed    int            `json:"sizes_failed"`
	Err            error          `json:"-"`
	Error          string         `json:"error,omitempty"`
}

type Totals struct {
	ProductsInserted  int `json:"products_inserted"`
	ProductsUpdated   int `json:"products_updated"`
	ProductsUnchanged int `json:"products_unchanged"`
	SizesInserted     int `json:"sizes_inserted"`
	SizesUpdated      int `json:"sizes_updated"`
	SizesUnchanged    int `json:"sizes_unchanged"`
	FailedEntities    int `json:"failed_entities"`
}

// Affected counts rows inserted or updated.
func (t Totals) Affected() int {
	return t.ProductsInserted + t.ProductsUpdated + t.SizesInserted + t.SizesUpdated
}

type ReconcileReport struct {
	Entities []*EntityOutcome `json:"entities"`
	Totals   Totals           `json:"totals"`
}

// Failed returns the outcomes that did not reach StageDone cleanly.
func (r *ReconcileReport) Failed() []*EntityOutcome {
	return ectolinq.Filter(r.Entities, func(o *EntityOutcome) bool {
		return o.Err != nil
	})
}

// Err joins the per-entity failures, or returns nil when every entity merged.
func (r *ReconcileReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return errors.Join(ectolinq.Map(failed, func(o *EntityOutcome) error {
		return o.Err
	})...)
}

// Reconciler merges validated cards into storage in two phases: every product first,
// then every size against the product ids resolved from storage.
type Reconciler struct {
	store  ProductStore
	logger ectologger.Logger
}

func NewReconciler(store ProductStore, logger ectologger.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
	}
}

// Reconcile returns an error only when the run as a whole cannot continue
// (cancellation or a failed identity lookup). Per-entity failures are in the report.
func (r *Reconciler) Reconcile(ctx context.Context, cards []models.Card) (*ReconcileReport, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Reconciler.Reconcile")
	defer span.End()

	report := &ReconcileReport{Entities: make([]*EntityOutcome, 0, len(cards))}
	if len(cards) == 0 {
		return report, nil
	}
	cards = r.uniqueByNmID(ctx, cards)

	// phase 1: products
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome := &EntityOutcome{NmID: card.NmID, Stage: StageProduct}
		report.Entities = append(report.Entities, outcome)

		result, err := r.store.UpsertProduct(ctx, models.ProductFromCard(card))
		if err != nil {
			r.fail(ctx, report, outcome, err)
			continue
		}

		outcome.ProductID = result.ID
		outcome.Product = result.Outcome()
		switch outcome.Product {
		case models.OutcomeInserted:
			report.Totals.ProductsInserted++
		case models.OutcomeUpdated:
			report.Totals.ProductsUpdated++
		default:
			report.Totals.ProductsUnchanged++
		}
	}

	succeeded := ectolinq.Filter(report.Entities, func(o *EntityOutcome) bool {
		return o.Err == nil
	})
	if len(succeeded) == 0 {
		return report, nil
	}

	ids, err := r.store.ProductIDsByNmID(ctx, ectolinq.Map(succeeded, func(o *EntityOutcome) int64 {
		return o.NmID
	}))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve product ids")
		return report, err
	}

	// phase 2: sizes
	byNmID := make(map[int64]*EntityOutcome, len(report.Entities))
	for _, o := range succeeded {
		byNmID[o.NmID] = o
	}

	for _, card := range cards {
		outcome, ok := byNmID[card.NmID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome.Stage = StageSizes
		productID, ok := ids[card.NmID]
		if !ok || productID == uuid.Nil {
			r.fail(ctx, report, outcome, &IdentityResolutionError{NmID: card.NmID})
			continue
		}
		outcome.ProductID = productID

		r.reconcileSizes(ctx, report, outcome, productID, card.Sizes)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entities":           len(report.Entities),
		"products_inserted":  report.Totals.ProductsInserted,
		"products_updated":   report.Totals.ProductsUpdated,
		"products_unchanged": report.Totals.ProductsUnchanged,
		"sizes_inserted":     report.Totals.SizesInserted,
		"sizes_updated":      report.Totals.SizesUpdated,
		"sizes_unchanged":    report.Totals.SizesUnchanged,
		"failed":             report.Totals.FailedEntities,
	}).Info("Reconciled catalog")

	return report, nil
}

// uniqueByNmID keeps the first card for each nm_id, matching the validator.
func (r *Reconciler) uniqueByNmID(ctx context.Context, cards []models.Card) []models.Card {
	seen := make(map[int64]struct{}, len(cards))
	unique := make([]models.Card, 0, len(cards))
	for i, card := range cards {
		if _, dup := seen[card.NmID]; dup {
			r.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": card.NmID, "index": i}).Warn("Duplicate card skipped")
			continue
		}
		seen[card.NmID] = struct{}{}
		unique = append(unique, card)
	}
	return unique
}

func (r *Reconciler) reconcileSizes(ctx context.Context, report *ReconcileReport, outcome *EntityOutcome, productID uuid.UUID, sizes []models.CardSize) {
	var sizeErrs []error
	for _, size := range sizes {
		label := size.Size
		result, err := r.store.UpsertProductSize(ctx, models.ProductSize{
			ProductID: productID,
			Barcode:   size.Barcode,
			Size:      &label,
		})
		if err != nil {
			outcome.SizesFailed++
			sizeErrs = append(sizeErrs, err)
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": outcome.NmID, "barcode": size.Barcode}).Error("Failed to upsert product size")
			continue
		}

		switch result.Outcome() {
		case models.OutcomeInserted:
			outcome.SizesInserted++
			report.Totals.SizesInserted++
		case models.OutcomeUpdated:
			outcome.SizesUpdated++
			report.Totals.SizesUpdated++
		default:
			outcome.SizesUnchanged++
			report.Totals.SizesUnchanged++
		}
	}

	if len(sizeErrs) > 0 {
		outcome.Err = errors.Join(sizeErrs...)
		outcome.Error = outcome.Err.Error()
		report.Totals.FailedEntities++
		return
	}
	outcome.Stage = StageDone
}

func (r *Reconciler) fail(ctx context.Context, report *ReconcileReport, outcome *EntityOutcome, err error) {
	if outcome.Stage == StageProduct {
		outcome.Product = models.OutcomeFailed
	}
	outcome.Err = err
	outcome.Error = err.Error()
	report.Totals.FailedEntities++
	r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": outcome.NmID, "stage": outcome.Stage}).Error("Failed to reconcile catalog entity")
}
