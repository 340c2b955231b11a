package crstats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	conversionStatsTable = "cr_daily_stats"
	upsertBatchSize      = 500
)

var (
	conversionColumns = []string{"id", "product_id", "nm_id", "vendor_code", "date_of_period", "open_card_count", "add_to_cart_count",
		"orders_count", "cancel_count", "orders_sum_rub", "add_to_cart_percent", "cart_to_order_percent", "order_price",
		"stocks_mp", "stocks_wb", "created_at", "updated_at"}
	conversionValues = []string{"product_id", "vendor_code", "open_card_count", "add_to_cart_count", "orders_count", "cancel_count",
		"orders_sum_rub", "add_to_cart_percent", "cart_to_order_percent", "order_price"}
	stockValues = []string{"stocks_mp", "stocks_wb"}
)

// Repository stores per-product daily conversion stats.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertConversionStats writes rows keyed on (nm_id, date_of_period) and returns how many
// were inserted or changed. Rows without a stocks snapshot leave the stored stocks as they are.
func (r *Repository) UpsertConversionStats(ctx context.Context, rows []models.ConversionDailyStat) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "crstats.Repository.UpsertConversionStats")
	defer span.End()

	if len(rows) == 0 {
		return 0, nil
	}

	withStocks := ectolinq.Filter(rows, func(row models.ConversionDailyStat) bool { return row.HasStocks })
	withoutStocks := ectolinq.Filter(rows, func(row models.ConversionDailyStat) bool { return !row.HasStocks })

	affected := 0
	err := database.RunInTx(ctx, r.db, nil, func(ctx context.Context, tx database.Tx) error {
		for _, group := range []struct {
			rows   []models.ConversionDailyStat
			stocks bool
		}{
			{withStocks, true},
			{withoutStocks, false},
		} {
			for start := 0; start < len(group.rows); start += upsertBatchSize {
				end := min(start+upsertBatchSize, len(group.rows))
				n, err := r.upsertBatch(ctx, tx, group.rows[start:end], group.stocks)
				if err != nil {
					return err
				}
				affected += n
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"rows": len(rows), "affected": affected}).Info("Upserted conversion stats")
	return affected, nil
}

func (r *Repository) upsertBatch(ctx context.Context, tx database.Tx, rows []models.ConversionDailyStat, stocks bool) (int, error) {
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversionStatsTable)
	ib.Cols(conversionColumns...)
	for _, row := range rows {
		ib.Values(uuid.New(), row.ProductID, row.NmID, row.VendorCode, row.Date.Format(time.DateOnly),
			row.OpenCardCount, row.AddToCartCount, row.OrdersCount, row.CancelCount, row.OrdersSumRub,
			row.AddToCartPercent, row.CartToOrderPercent, row.OrderPrice, row.StocksMp, row.StocksWb, now, now)
	}

	columns := conversionValues
	if stocks {
		columns = append(append([]string{}, conversionValues...), stockValues...)
	}

	ub := ib.OnConflict("nm_id", "date_of_period")
	assignments := make([]string, 0, len(columns)+1)
	current := make([]string, 0, len(columns))
	excluded := make([]string, 0, len(columns))
	for _, col := range columns {
		assignments = append(assignments, ub.Assign(col, database.Excluded(col)))
		current = append(current, fmt.Sprintf("%s.%s", conversionStatsTable, col))
		excluded = append(excluded, "EXCLUDED."+col)
	}
	assignments = append(assignments, ub.Assign("updated_at", database.Excluded("updated_at")))
	ub.Set(assignments...)
	ub.Where(fmt.Sprintf("(%s) IS DISTINCT FROM (%s)", strings.Join(current, ", "), strings.Join(excluded, ", ")))

	query, args := ib.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"rows": len(rows), "stocks": stocks}).Error("Failed to upsert conversion stats")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert conversion stats")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert conversion stats")
	}
	return int(n), nil
}

// ConversionStatsFor reads the stored rows of one day for the given nm_ids.
func (r *Repository) ConversionStatsFor(ctx context.Context, date time.Time, nmIDs []int64) ([]models.ConversionDailyStat, error) {
	ctx, span := tracing.StartSpan(ctx, "crstats.Repository.ConversionStatsFor")
	defer span.End()

	if len(nmIDs) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(conversionColumns...)
	sb.From(conversionStatsTable)
	sb.Where(
		sb.Equal("date_of_period", date.Format(time.DateOnly)),
		sb.In("nm_id", ectolinq.Map(nmIDs, func(id int64) any { return id })...),
	)
	sb.OrderBy("nm_id")

	query, args := sb.Build()

	var rows []models.ConversionDailyStat
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"date": date.Format(time.DateOnly)}).Error("Failed to read conversion stats")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read conversion stats")
	}
	return rows, nil
}
