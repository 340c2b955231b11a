package advstats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/advstats"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	dailyStatsTable = "adv_campaign_daily_stats"
	advParamsTable  = "adv_params"

	advParamKeyConstraint = "adv_params_nm_id_date_key"
	advParamProductFK     = "adv_params_nm_id_fkey"

	upsertBatchSize = 500
)

var (
	dailyStatColumns = []string{"id", "advert_id", "nm_id", "vendor_code", "date", "views", "clicks", "cpc", "ctr", "sum", "orders", "orders_sum", "cpm", "created_at", "updated_at"}
	dailyStatValues  = []string{"vendor_code", "views", "clicks", "cpc", "ctr", "sum", "orders", "orders_sum", "cpm"}
	advParamColumns  = []string{"id", "nm_id", "vendor_code", "date", "views", "clicks", "sum", "cpc", "cpm", "ctr", "orders", "orders_sum", "created_at", "updated_at"}
)

// Repository stores per-campaign daily stats and the per-product adv params built from them.
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

var _ advstats.Store = (*Repository)(nil)

// UpsertDailyStats writes rows keyed on (advert_id, nm_id, date) and returns how many
// were inserted or had a value change. Unchanged rows keep their updated_at.
func (r *Repository) UpsertDailyStats(ctx context.Context, rows []models.CampaignDailyStat) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.UpsertDailyStats")
	defer span.End()

	if len(rows) == 0 {
		return 0, nil
	}

	affected := 0
	err := database.RunInTx(ctx, r.db, nil, func(ctx context.Context, tx database.Tx) error {
		for start := 0; start < len(rows); start += upsertBatchSize {
			end := min(start+upsertBatchSize, len(rows))
			n, err := r.upsertDailyStatsBatch(ctx, tx, rows[start:end])
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"rows": len(rows), "affected": affected}).Info("Upserted campaign daily stats")
	return affected, nil
}

func (r *Repository) upsertDailyStatsBatch(ctx context.Context, tx database.Tx, rows []models.CampaignDailyStat) (int, error) {
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(dailyStatsTable)
	ib.Cols(dailyStatColumns...)
	for _, row := range rows {
		ib.Values(uuid.New(), row.AdvertID, row.NmID, row.VendorCode, row.Date.Format(time.DateOnly),
			row.Views, row.Clicks, row.CPC, row.CTR, row.Sum, row.Orders, row.OrdersSum, row.CPM, now, now)
	}

	ub := ib.OnConflict("advert_id", "nm_id", "date")
	assignments := make([]string, 0, len(dailyStatValues)+1)
	current := make([]string, 0, len(dailyStatValues))
	excluded := make([]string, 0, len(dailyStatValues))
	for _, col := range dailyStatValues {
		assignments = append(assignments, ub.Assign(col, database.Excluded(col)))
		current = append(current, fmt.Sprintf("%s.%s", dailyStatsTable, col))
		excluded = append(excluded, "EXCLUDED."+col)
	}
	assignments = append(assignments, ub.Assign("updated_at", database.Excluded("updated_at")))
	ub.Set(assignments...)
	ub.Where(fmt.Sprintf("(%s) IS DISTINCT FROM (%s)", strings.Join(current, ", "), strings.Join(excluded, ", ")))

	query, args := ib.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"rows": len(rows)}).Error("Failed to upsert campaign daily stats")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert campaign daily stats")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert campaign daily stats")
	}
	return int(n), nil
}

func (r *Repository) DailyStatsInRange(ctx context.Context, rng models.DateRange) ([]models.CampaignDailyStat, error) {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.DailyStatsInRange")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(dailyStatColumns...)
	sb.From(dailyStatsTable)
	whereDateRange(sb, rng)
	sb.OrderBy("date", "nm_id", "advert_id")

	query, args := sb.Build()

	var rows []models.CampaignDailyStat
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read campaign daily stats")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read campaign daily stats")
	}
	return rows, nil
}

// AdvParamsInRange lists adv params ordered by date and nm_id.
func (r *Repository) AdvParamsInRange(ctx context.Context, rng models.DateRange) ([]models.AdvParam, error) {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.AdvParamsInRange")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(advParamColumns...)
	sb.From(advParamsTable)
	whereDateRange(sb, rng)
	sb.OrderBy("date", "nm_id")

	query, args := sb.Build()

	var params []models.AdvParam
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &params, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read adv params")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read adv params")
	}
	return params, nil
}

func whereDateRange(sb *database.SelectBuilder, rng models.DateRange) {
	if rng.From != nil {
		sb.Where(sb.GreaterEqualThan("date", rng.From.Format(time.DateOnly)))
	}
	if rng.To != nil {
		sb.Where(sb.LessEqualThan("date", rng.To.Format(time.DateOnly)))
	}
}

func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.RunInTx(ctx, r.db, nil, func(ctx context.Context, _ database.Tx) error {
		return fn(ctx)
	})
}

func (r *Repository) GetAdvParamForUpdate(ctx context.Context, nmID int64, date time.Time) (*models.AdvParam, error) {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.GetAdvParamForUpdate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(advParamColumns...)
	sb.From(advParamsTable)
	sb.Where(
		sb.Equal("nm_id", nmID),
		sb.Equal("date", date.Format(time.DateOnly)),
	)
	sb.ForUpdate()

	query, args := sb.Build()

	var param models.AdvParam
	err := database.Conn(ctx, r.db).GetContext(ctx, &param, query, args...)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": nmID}).Error("Failed to read adv params")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read adv params")
	}
	return &param, nil
}

func (r *Repository) InsertAdvParam(ctx context.Context, p models.AdvParam) error {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.InsertAdvParam")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(advParamsTable)
	ib.Cols(advParamColumns...)
	ib.Values(p.ID, p.NmID, p.VendorCode, p.Date.Format(time.DateOnly), p.Views, p.Clicks, p.Sum, p.CPC, p.CPM, p.CTR,
		p.Orders, p.OrdersSum, p.CreatedAt, p.UpdatedAt)

	query, args := ib.Build()

	_, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, advParamKeyConstraint):
		return advstats.ErrAdvParamExists
	case database.IsForeignKeyViolation(err, advParamProductFK):
		return advstats.ErrUnknownProduct
	}

	r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": p.NmID, "date": p.Date.Format(time.DateOnly)}).Error("Failed to insert adv params")
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert adv params")
}

func (r *Repository) UpdateAdvParam(ctx context.Context, p models.AdvParam, touch bool) error {
	ctx, span := tracing.StartSpan(ctx, "advstats.Repository.UpdateAdvParam")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(advParamsTable)
	assignments := []string{
		ub.Assign("vendor_code", p.VendorCode),
		ub.Assign("views", p.Views),
		ub.Assign("clicks", p.Clicks),
		ub.Assign("sum", p.Sum),
		ub.Assign("cpc", p.CPC),
		ub.Assign("cpm", p.CPM),
		ub.Assign("ctr", p.CTR),
		ub.Assign("orders", p.Orders),
		ub.Assign("orders_sum", p.OrdersSum),
	}
	if touch {
		assignments = append(assignments, ub.Assign("updated_at", p.UpdatedAt))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", p.ID))

	query, args := ub.Build()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": p.NmID, "date": p.Date.Format(time.DateOnly)}).Error("Failed to update adv params")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update adv params")
	}
	return nil
}
