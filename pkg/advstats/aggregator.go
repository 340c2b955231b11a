package advstats

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var (
	// ErrAdvParamExists is returned by InsertAdvParam when another writer inserted the key first.
	ErrAdvParamExists = errors.New("adv param already exists")
	// ErrUnknownProduct is returned when no product carries the nm_id.
	ErrUnknownProduct = errors.New("no product with this nm_id")
)

// Store is the storage the aggregator reads fine-grained stats from and writes adv params to.
type Store interface {
	DailyStatsInRange(ctx context.Context, rng models.DateRange) ([]models.CampaignDailyStat, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// GetAdvParamForUpdate locks and returns the stored row, or nil when absent.
	GetAdvParamForUpdate(ctx context.Context, nmID int64, date time.Time) (*models.AdvParam, error)
	InsertAdvParam(ctx context.Context, param models.AdvParam) error
	// UpdateAdvParam writes every field; UpdatedAt is written only when touch is set.
	UpdateAdvParam(ctx context.Context, param models.AdvParam, touch bool) error
}

// ChangedParam is an adv param that was inserted or had a tracked field change.
type ChangedParam struct {
	Param    models.AdvParam `json:"param"`
	Inserted bool            `json:"inserted"`
}

type AggregateReport struct {
	Groups    int            `json:"groups"`
	Affected  int            `json:"affected"`
	Inserted  int            `json:"inserted"`
	Changed   int            `json:"changed"`
	Unchanged int            `json:"unchanged"`
	Orphaned  []int64        `json:"orphaned,omitempty"`
	Changes   []ChangedParam `json:"-"`
}

type Aggregator struct {
	store  Store
	logger ectologger.Logger
	now    func() time.Time
}

func NewAggregator(store Store, logger ectologger.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate rebuilds adv params for [from, to] and returns how many rows were inserted or updated.
func (a *Aggregator) Aggregate(ctx context.Context, from, to *time.Time) (int, error) {
	report, err := a.AggregateWithReport(ctx, models.DateRange{From: from, To: to})
	if report == nil {
		return 0, err
	}
	return report.Affected, err
}

func (a *Aggregator) AggregateWithReport(ctx context.Context, rng models.DateRange) (*AggregateReport, error) {
	ctx, span := tracing.StartSpan(ctx, "advstats.Aggregator.Aggregate")
	defer span.End()

	rows, err := a.store.DailyStatsInRange(ctx, rng)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to read campaign daily stats")
		return nil, err
	}

	groups := GroupDailyStats(rows)
	report := &AggregateReport{Groups: len(groups)}
	if len(groups) == 0 {
		a.logger.WithContext(ctx).Info("No campaign daily stats in range")
		return report, nil
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		change, err := a.upsertWithRetry(ctx, group)
		if errors.Is(err, ErrUnknownProduct) {
			report.Orphaned = append(report.Orphaned, group.NmID)
			a.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": group.NmID, "date": group.Date.Format(time.DateOnly)}).Warn("Skipping adv params for unknown product")
			continue
		}
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": group.NmID, "date": group.Date.Format(time.DateOnly)}).Error("Failed to upsert adv params")
			return report, err
		}

		report.Affected++
		switch {
		case change == nil:
			report.Unchanged++
		case change.Inserted:
			report.Inserted++
			report.Changes = append(report.Changes, *change)
		default:
			report.Changed++
			report.Changes = append(report.Changes, *change)
		}
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"groups":    report.Groups,
		"affected":  report.Affected,
		"inserted":  report.Inserted,
		"changed":   report.Changed,
		"unchanged": report.Unchanged,
		"orphaned":  len(report.Orphaned),
	}).Info("Aggregated adv params")

	return report, nil
}

// upsertWithRetry retries once when a concurrent writer inserted the same key,
// which turns the insert into a compare-and-update against the surviving row.
func (a *Aggregator) upsertWithRetry(ctx context.Context, group Group) (*ChangedParam, error) {
	change, err := a.upsert(ctx, group)
	if errors.Is(err, ErrAdvParamExists) {
		a.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": group.NmID, "date": group.Date.Format(time.DateOnly)}).Debug("Adv params inserted concurrently, retrying as update")
		change, err = a.upsert(ctx, group)
	}
	return change, err
}

func (a *Aggregator) upsert(ctx context.Context, group Group) (*ChangedParam, error) {
	var change *ChangedParam

	err := a.store.RunInTx(ctx, func(ctx context.Context) error {
		now := a.now()
		next := group.toParam()

		stored, err := a.store.GetAdvParamForUpdate(ctx, group.NmID, group.Date)
		if err != nil {
			return err
		}

		if stored == nil {
			next.ID = uuid.New()
			next.CreatedAt = now
			next.UpdatedAt = now
			if err := a.store.InsertAdvParam(ctx, next); err != nil {
				return err
			}
			change = &ChangedParam{Param: next, Inserted: true}
			return nil
		}

		next.ID = stored.ID
		next.CreatedAt = stored.CreatedAt
		next.UpdatedAt = stored.UpdatedAt

		touch := TrackedFieldsDiffer(*stored, next)
		if touch {
			next.UpdatedAt = now
		}
		if err := a.store.UpdateAdvParam(ctx, next, touch); err != nil {
			return err
		}
		if touch {
			change = &ChangedParam{Param: next}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// TrackedFieldsDiffer reports whether any tracked numeric field differs, null-aware.
func TrackedFieldsDiffer(stored, next models.AdvParam) bool {
	return stored.Views != next.Views ||
		stored.Clicks != next.Clicks ||
		stored.Orders != next.Orders ||
		distinct(stored.Sum, next.Sum) ||
		distinct(stored.OrdersSum, next.OrdersSum)
}

// Group is the sum of every campaign's stats for one product on one day.
type Group struct {
	NmID       int64
	Date       time.Time
	VendorCode string
	Views      int64
	Clicks     int64
	Sum        decimal.Decimal
	Orders     int64
	OrdersSum  decimal.Decimal
}

func (g Group) toParam() models.AdvParam {
	sum := Money(g.Sum)
	return models.AdvParam{
		NmID:       g.NmID,
		VendorCode: g.VendorCode,
		Date:       g.Date,
		Views:      g.Views,
		Clicks:     g.Clicks,
		Sum:        decimal.NullDecimal{Decimal: sum, Valid: true},
		CPC:        CPC(sum, g.Clicks),
		CPM:        CPM(sum, g.Views),
		CTR:        CTR(g.Clicks, g.Views),
		Orders:     g.Orders,
		OrdersSum:  decimal.NullDecimal{Decimal: Money(g.OrdersSum), Valid: true},
	}
}

type groupKey struct {
	nmID int64
	date string
}

// GroupDailyStats sums rows by (nm_id, date). The vendor code is the first non-empty one
// in ascending campaign order. Groups are ordered by date, then nm_id.
func GroupDailyStats(rows []models.CampaignDailyStat) []Group {
	sorted := make([]models.CampaignDailyStat, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AdvertID < sorted[j].AdvertID
	})

	index := make(map[groupKey]int)
	var groups []Group
	for _, row := range sorted {
		date := dateOnly(row.Date)
		key := groupKey{nmID: row.NmID, date: date.Format(time.DateOnly)}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{NmID: row.NmID, Date: date})
		}

		g := &groups[i]
		if g.VendorCode == "" {
			g.VendorCode = row.VendorCode
		}
		g.Views += row.Views
		g.Clicks += row.Clicks
		g.Sum = g.Sum.Add(row.Sum)
		g.Orders += row.Orders
		g.OrdersSum = g.OrdersSum.Add(row.OrdersSum)
	}

	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].Date.Equal(groups[j].Date) {
			return groups[i].Date.Before(groups[j].Date)
		}
		return groups[i].NmID < groups[j].NmID
	})
	return groups
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
