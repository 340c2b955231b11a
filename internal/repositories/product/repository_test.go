package product_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/testcontainers"
)

func setup(t *testing.T) (*product.Repository, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := logging.NewTestLogger()
	pg, err := testcontainers.StartPostgres(ctx, logger)
	require.NoError(t, err)
	t.Cleanup(func() { pg.Terminate(ctx) })

	return product.NewRepository(pg.DB, logger), ctx
}

func dress(nmID int64, vendorCode string) models.Product {
	return models.Product{NmID: nmID, ImtID: 9000, VendorCode: vendorCode, Title: "Summer dress", Category: "Dresses"}
}

func TestRepository_ProductIdentity(t *testing.T) {
	repo, ctx := setup(t)

	created, err := repo.UpsertProduct(ctx, dress(100, "VC-100"))
	require.NoError(t, err)
	assert.True(t, created.IsNew)

	before, err := repo.GetByNmID(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, before)

	same, err := repo.UpsertProduct(ctx, dress(100, "VC-100"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnchanged, same.Outcome())
	assert.Equal(t, created.ID, same.ID)

	changed := dress(100, "VC-100-B")
	changed.Title = "Winter dress"
	updated, err := repo.UpsertProduct(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, updated.Outcome())

	after, err := repo.GetByNmID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.SerialNo, after.SerialNo)
	assert.Equal(t, "Winter dress", after.Title)
	assert.Equal(t, "VC-100-B", after.VendorCode)
}

func TestRepository_VendorCodeConflict(t *testing.T) {
	repo, ctx := setup(t)

	_, err := repo.UpsertProduct(ctx, dress(100, "VC-SHARED"))
	require.NoError(t, err)

	_, err = repo.UpsertProduct(ctx, dress(200, "VC-SHARED"))
	var conflict *catalog.ConflictError
	require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
	assert.Equal(t, int64(200), conflict.NmID)
	assert.Equal(t, "vendor_code", conflict.Column)

	missing, err := repo.GetByNmID(ctx, 200)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_ConcurrentUpsertsKeepOneRow(t *testing.T) {
	repo, ctx := setup(t)

	const writers = 8
	results := make([]models.UpsertResult, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.UpsertProduct(ctx, dress(100, "VC-100"))
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		if results[i].IsNew {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	ids, err := repo.ProductIDsByNmID(ctx, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, results[0].ID, ids[100])
}

func TestRepository_Sizes(t *testing.T) {
	repo, ctx := setup(t)

	a, err := repo.UpsertProduct(ctx, dress(100, "VC-100"))
	require.NoError(t, err)
	b, err := repo.UpsertProduct(ctx, dress(200, "VC-200"))
	require.NoError(t, err)

	label := "42"
	created, err := repo.UpsertProductSize(ctx, models.ProductSize{ProductID: a.ID, Barcode: "2000000000011", Size: &label})
	require.NoError(t, err)
	assert.True(t, created.IsNew)

	same, err := repo.UpsertProductSize(ctx, models.ProductSize{ProductID: a.ID, Barcode: "2000000000011", Size: &label})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnchanged, same.Outcome())

	moved, err := repo.UpsertProductSize(ctx, models.ProductSize{ProductID: b.ID, Barcode: "2000000000011", Size: nil})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, moved.Outcome())
	assert.Equal(t, created.ID, moved.ID)

	sizes, err := repo.SizesByProductID(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, sizes, 1)
	assert.Nil(t, sizes[0].Size)

	sizes, err = repo.SizesByProductID(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, sizes)
}

func TestRepository_ReconcilerEndToEnd(t *testing.T) {
	repo, ctx := setup(t)
	r := catalog.NewReconciler(repo, logging.NewTestLogger())

	var cards []models.Card
	for i := int64(1); i <= 5; i++ {
		cards = append(cards, models.Card{
			NmID:       i * 100,
			ImtID:      9000,
			VendorCode: fmt.Sprintf("VC-%d", i),
			Title:      "Dress",
			Category:   "Dresses",
			Sizes:      []models.CardSize{{Barcode: fmt.Sprintf("20000000000%d1", i), Size: "42"}},
		})
	}

	report, err := r.Reconcile(ctx, cards)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 5, report.Totals.ProductsInserted)
	assert.Equal(t, 5, report.Totals.SizesInserted)

	again, err := r.Reconcile(ctx, cards)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Totals.Affected())

	codes, err := repo.VendorCodesByNmID(ctx, []int64{100, 300, 999})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{100: "VC-1", 300: "VC-3"}, codes)
}
