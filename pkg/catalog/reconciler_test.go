package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

func card(nmID int64, vendorCode string, barcodes ...string) models.Card {
	c := models.Card{
		NmID:       nmID,
		ImtID:      9000,
		VendorCode: vendorCode,
		Title:      "Summer dress",
		Category:   "Dresses",
	}
	for _, b := range barcodes {
		c.Sizes = append(c.Sizes, models.CardSize{Barcode: b, Size: "42"})
	}
	return c
}

func TestReconciler_InsertsThenIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	r := NewReconciler(store, logging.NewTestLogger())
	ctx := context.Background()
	cards := []models.Card{card(100, "VC-100", "b1", "b2"), card(200, "VC-200", "b3")}

	report, err := r.Reconcile(ctx, cards)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 2, report.Totals.ProductsInserted)
	assert.Equal(t, 3, report.Totals.SizesInserted)
	for _, o := range report.Entities {
		assert.Equal(t, StageDone, o.Stage)
	}

	again, err := r.Reconcile(ctx, cards)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Totals.ProductsUnchanged)
	assert.Equal(t, 3, again.Totals.SizesUnchanged)
	assert.Equal(t, 0, again.Totals.Affected())
}

func TestReconciler_RepeatedNmIDHandledOnce(t *testing.T) {
	store := newMemoryStore()
	r := NewReconciler(store, logging.NewTestLogger())
	first := card(100, "VC-100", "b1", "b2")
	repeat := card(100, "VC-100", "b9")
	repeat.Title = "Other title"

	report, err := r.Reconcile(context.Background(), []models.Card{first, repeat})
	require.NoError(t, err)
	require.Len(t, report.Entities, 1)
	assert.Equal(t, 1, report.Totals.ProductsInserted)
	assert.Equal(t, 0, report.Totals.ProductsUnchanged)
	assert.Equal(t, 2, report.Totals.SizesInserted)
	assert.Equal(t, 0, report.Totals.SizesUnchanged)

	stored, ok := store.product(100)
	require.True(t, ok)
	assert.Equal(t, "Summer dress", stored.Title)
	_, ok = store.size("b9")
	assert.False(t, ok)
}

func TestReconciler_PreservesIdentityAcrossUpdates(t *testing.T) {
	store := newMemoryStore()
	r := NewReconciler(store, logging.NewTestLogger())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, []models.Card{card(100, "VC-100", "b1")})
	require.NoError(t, err)
	before, ok := store.product(100)
	require.True(t, ok)
	sizeBefore, ok := store.size("b1")
	require.True(t, ok)

	changed := card(100, "VC-100-NEW", "b1")
	changed.Title = "Winter dress"
	changed.ImtID = 9001
	changed.Sizes[0].Size = "44"

	report, err := r.Reconcile(ctx, []models.Card{changed})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.ProductsUpdated)
	assert.Equal(t, 1, report.Totals.SizesUpdated)

	after, _ := store.product(100)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.SerialNo, after.SerialNo)
	assert.Equal(t, "Winter dress", after.Title)
	assert.Equal(t, "VC-100-NEW", after.VendorCode)
	assert.Equal(t, int64(9001), after.ImtID)

	sizeAfter, _ := store.size("b1")
	assert.Equal(t, sizeBefore.ID, sizeAfter.ID)
	assert.Equal(t, sizeBefore.SerialNo, sizeAfter.SerialNo)
	assert.Equal(t, "44", *sizeAfter.Size)
}

func TestReconciler_IdentityResolutionFailureIsolated(t *testing.T) {
	store := newMemoryStore()
	store.hiddenNmIDs[200] = true
	r := NewReconciler(store, logging.NewTestLogger())

	report, err := r.Reconcile(context.Background(), []models.Card{
		card(100, "VC-100", "b1"),
		card(200, "VC-200", "b2"),
		card(300, "VC-300", "b3"),
	})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, int64(200), failed[0].NmID)
	assert.Equal(t, StageSizes, failed[0].Stage)
	assert.True(t, errors.Is(failed[0].Err, ErrNoStableIdentity))

	var idErr *IdentityResolutionError
	require.True(t, errors.As(report.Err(), &idErr))
	assert.Equal(t, int64(200), idErr.NmID)

	_, ok := store.size("b2")
	assert.False(t, ok)
	_, ok = store.size("b1")
	assert.True(t, ok)
	_, ok = store.size("b3")
	assert.True(t, ok)
	assert.Equal(t, 2, report.Totals.SizesInserted)
}

func TestReconciler_VendorCodeConflictSkipsOnlyThatEntity(t *testing.T) {
	store := newMemoryStore()
	r := NewReconciler(store, logging.NewTestLogger())

	report, err := r.Reconcile(context.Background(), []models.Card{
		card(100, "VC-SHARED", "b1"),
		card(200, "VC-SHARED", "b2"),
	})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, int64(200), failed[0].NmID)
	assert.Equal(t, StageProduct, failed[0].Stage)
	assert.Equal(t, models.OutcomeFailed, failed[0].Product)

	var conflict *ConflictError
	assert.True(t, errors.As(failed[0].Err, &conflict))

	_, ok := store.size("b2")
	assert.False(t, ok, "sizes of a failed product must not be written")
	_, ok = store.size("b1")
	assert.True(t, ok)
}

func TestReconciler_SizeFailureDoesNotAffectSiblings(t *testing.T) {
	store := newMemoryStore()
	store.failBarcode["b2"] = true
	r := NewReconciler(store, logging.NewTestLogger())

	report, err := r.Reconcile(context.Background(), []models.Card{card(100, "VC-100", "b1", "b2", "b3")})
	require.NoError(t, err)

	require.Len(t, report.Entities, 1)
	o := report.Entities[0]
	assert.Equal(t, StageSizes, o.Stage)
	assert.Equal(t, 2, o.SizesInserted)
	assert.Equal(t, 1, o.SizesFailed)
	assert.Error(t, o.Err)

	store.failBarcode["b2"] = false
	rerun, err := r.Reconcile(context.Background(), []models.Card{card(100, "VC-100", "b1", "b2", "b3")})
	require.NoError(t, err)
	require.NoError(t, rerun.Err())
	assert.Equal(t, 1, rerun.Totals.SizesInserted)
	assert.Equal(t, 2, rerun.Totals.SizesUnchanged)
}

func TestReconciler_LookupFailureStopsRun(t *testing.T) {
	store := newMemoryStore()
	store.lookupErr = errors.New("connection refused")
	r := NewReconciler(store, logging.NewTestLogger())

	report, err := r.Reconcile(context.Background(), []models.Card{card(100, "VC-100", "b1")})
	require.Error(t, err)
	assert.Equal(t, 1, report.Totals.ProductsInserted)
	assert.Equal(t, 0, report.Totals.SizesInserted)
}

func TestReconciler_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReconciler(newMemoryStore(), logging.NewTestLogger())
	_, err := r.Reconcile(ctx, []models.Card{card(100, "VC-100", "b1")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconciler_Empty(t *testing.T) {
	r := NewReconciler(newMemoryStore(), logging.NewTestLogger())
	report, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Entities)
	assert.NoError(t, report.Err())
}
