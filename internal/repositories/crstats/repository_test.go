package crstats_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repo "github.com/Ramsey-B/clover/internal/repositories/crstats"
	"github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/pkg/crstats"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/testcontainers"
)

var (
	today     = time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	yesterday = today.AddDate(0, 0, -1)
)

func setup(t *testing.T) (*repo.Repository, uuid.UUID, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := logging.NewTestLogger()
	pg, err := testcontainers.StartPostgres(ctx, logger)
	require.NoError(t, err)
	t.Cleanup(func() { pg.Terminate(ctx) })

	products := product.NewRepository(pg.DB, logger)
	res, err := products.UpsertProduct(ctx, models.Product{NmID: 100, ImtID: 9000, VendorCode: "VC-100", Title: "Dress", Category: "Dresses"})
	require.NoError(t, err)

	return repo.NewRepository(pg.DB, logger), res.ID, ctx
}

func ptr(v int64) *int64 { return &v }

func stat(productID uuid.UUID, date time.Time, opens int64, stocks *int64) models.ConversionDailyStat {
	row := models.ConversionDailyStat{
		ProductID:          productID,
		NmID:               100,
		VendorCode:         "VC-100",
		Date:               date,
		OpenCardCount:      ptr(opens),
		AddToCartCount:     ptr(40),
		OrdersCount:        ptr(3),
		CancelCount:        ptr(0),
		OrdersSumRub:       decimal.NewNullDecimal(decimal.RequireFromString("4500.50")),
		AddToCartPercent:   decimal.NewNullDecimal(decimal.RequireFromString("16.00")),
		CartToOrderPercent: decimal.NewNullDecimal(decimal.RequireFromString("7.50")),
		OrderPrice:         decimal.NewNullDecimal(decimal.RequireFromString("1500.17")),
	}
	if stocks != nil {
		row.HasStocks = true
		row.StocksMp = stocks
		row.StocksWb = ptr(*stocks * 2)
	}
	return row
}

func TestRepository_UpsertConversionStats(t *testing.T) {
	r, productID, ctx := setup(t)

	rows := []models.ConversionDailyStat{stat(productID, today, 250, ptr(12)), stat(productID, yesterday, 300, nil)}
	n, err := r.UpsertConversionStats(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := r.ConversionStatsFor(ctx, today, []int64{100})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Empty(t, crstats.Mismatches(rows[:1], stored))
	firstUpdate := stored[0].UpdatedAt

	t.Run("unchanged rows are not touched", func(t *testing.T) {
		n, err := r.UpsertConversionStats(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		again, err := r.ConversionStatsFor(ctx, today, []int64{100})
		require.NoError(t, err)
		assert.True(t, firstUpdate.Equal(again[0].UpdatedAt))
	})

	t.Run("a later run keeps yesterday's stocks snapshot", func(t *testing.T) {
		// yesterday's stocks were written when yesterday was today
		_, err := r.UpsertConversionStats(ctx, []models.ConversionDailyStat{stat(productID, yesterday, 300, ptr(7))})
		require.NoError(t, err)

		n, err := r.UpsertConversionStats(ctx, []models.ConversionDailyStat{stat(productID, yesterday, 310, nil)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stored, err := r.ConversionStatsFor(ctx, yesterday, []int64{100})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, int64(310), *stored[0].OpenCardCount)
		require.NotNil(t, stored[0].StocksMp)
		assert.Equal(t, int64(7), *stored[0].StocksMp)
	})
}

func TestRepository_ConversionStatsForEmpty(t *testing.T) {
	r, _, ctx := setup(t)

	rows, err := r.ConversionStatsFor(ctx, today, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := r.UpsertConversionStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
