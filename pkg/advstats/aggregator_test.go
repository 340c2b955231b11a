package advstats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

var day1 = time.Date(2025, 9, 28, 0, 0, 0, 0, time.UTC)

func stat(advertID, nmID int64, date time.Time, views, clicks int64, sum string, orders int64, ordersSum string) models.CampaignDailyStat {
	return models.CampaignDailyStat{
		AdvertID:   advertID,
		NmID:       nmID,
		VendorCode: "VC-" + decimal.NewFromInt(nmID).String(),
		Date:       date,
		Views:      views,
		Clicks:     clicks,
		Sum:        dec(sum),
		Orders:     orders,
		OrdersSum:  dec(ordersSum),
	}
}

// newTestAggregator returns an aggregator whose clock advances one minute per call.
func newTestAggregator(store Store) *Aggregator {
	a := NewAggregator(store, logging.NewTestLogger())
	clock := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return a
}

func TestAggregator_WorkedExample(t *testing.T) {
	store := newMemoryStore(
		stat(11, 100, day1, 4000, 20, "80.00", 2, "2000.00"),
		stat(12, 100, day1, 710, 10, "40.00", 1, "1000.00"),
	)
	a := newTestAggregator(store)

	affected, err := a.Aggregate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	p, ok := store.param(100, day1)
	require.True(t, ok)
	assert.Equal(t, int64(4710), p.Views)
	assert.Equal(t, int64(30), p.Clicks)
	assert.Equal(t, "120.00", p.Sum.Decimal.StringFixed(2))
	assert.Equal(t, int64(3), p.Orders)
	assert.Equal(t, "3000.00", p.OrdersSum.Decimal.StringFixed(2))
	assert.Equal(t, "4.00", p.CPC.Decimal.StringFixed(2))
	assert.Equal(t, "25.48", p.CPM.Decimal.StringFixed(2))
	assert.Equal(t, "0.64", p.CTR.Decimal.StringFixed(2))
	assert.Equal(t, "VC-100", p.VendorCode)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)
}

func TestAggregator_IdempotentRerunKeepsUpdatedAt(t *testing.T) {
	store := newMemoryStore(stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"))
	a := newTestAggregator(store)
	ctx := context.Background()

	first, err := a.AggregateWithReport(ctx, models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Len(t, first.Changes, 1)
	before, _ := store.param(100, day1)

	second, err := a.AggregateWithReport(ctx, models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Affected)
	assert.Equal(t, 1, second.Unchanged)
	assert.Empty(t, second.Changes)

	after, _ := store.param(100, day1)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestAggregator_TrackedChangeBumpsUpdatedAt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *models.CampaignDailyStat)
	}{
		{name: "views", mutate: func(s *models.CampaignDailyStat) { s.Views++ }},
		{name: "clicks", mutate: func(s *models.CampaignDailyStat) { s.Clicks++ }},
		{name: "sum", mutate: func(s *models.CampaignDailyStat) { s.Sum = dec("10.01") }},
		{name: "orders", mutate: func(s *models.CampaignDailyStat) { s.Orders++ }},
		{name: "orders sum", mutate: func(s *models.CampaignDailyStat) { s.OrdersSum = dec("499.99") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore(stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"))
			a := newTestAggregator(store)
			ctx := context.Background()

			_, err := a.Aggregate(ctx, nil, nil)
			require.NoError(t, err)
			before, _ := store.param(100, day1)

			tt.mutate(&store.stats[0])
			report, err := a.AggregateWithReport(ctx, models.DateRange{})
			require.NoError(t, err)
			assert.Equal(t, 1, report.Changed)
			require.Len(t, report.Changes, 1)
			assert.False(t, report.Changes[0].Inserted)

			after, _ := store.param(100, day1)
			assert.Equal(t, before.ID, after.ID)
			assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
			assert.Equal(t, before.CreatedAt, after.CreatedAt)
		})
	}
}

func TestAggregator_UntrackedChangeIsWrittenWithoutTouch(t *testing.T) {
	store := newMemoryStore(stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"))
	a := newTestAggregator(store)
	ctx := context.Background()

	_, err := a.Aggregate(ctx, nil, nil)
	require.NoError(t, err)
	before, _ := store.param(100, day1)

	store.stats[0].VendorCode = "VC-RENAMED"
	report, err := a.AggregateWithReport(ctx, models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Empty(t, report.Changes)

	after, _ := store.param(100, day1)
	assert.Equal(t, "VC-RENAMED", after.VendorCode)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestAggregator_RangeIsInclusiveAndMissReturnsZero(t *testing.T) {
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)
	store := newMemoryStore(
		stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"),
		stat(11, 100, day2, 100, 5, "10.00", 1, "500.00"),
		stat(11, 100, day3, 100, 5, "10.00", 1, "500.00"),
	)
	a := newTestAggregator(store)
	ctx := context.Background()

	affected, err := a.Aggregate(ctx, &day2, &day3)
	require.NoError(t, err)
	assert.Equal(t, 2, affected)
	_, ok := store.param(100, day1)
	assert.False(t, ok)

	future := day1.AddDate(1, 0, 0)
	affected, err = a.Aggregate(ctx, &future, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, affected)
}

func TestAggregator_NullRatiosWithoutViews(t *testing.T) {
	store := newMemoryStore(stat(11, 100, day1, 0, 0, "0.00", 2, "800.00"))
	a := newTestAggregator(store)

	_, err := a.Aggregate(context.Background(), nil, nil)
	require.NoError(t, err)

	p, _ := store.param(100, day1)
	assert.False(t, p.CPC.Valid)
	assert.False(t, p.CPM.Valid)
	assert.False(t, p.CTR.Valid)
	assert.True(t, p.Sum.Valid)
	assert.Equal(t, int64(2), p.Orders)
}

func TestAggregator_SkipsOrphanedProducts(t *testing.T) {
	store := newMemoryStore(
		stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"),
		stat(11, 999, day1, 100, 5, "10.00", 1, "500.00"),
	)
	store.products = map[int64]bool{100: true}
	a := newTestAggregator(store)

	report, err := a.AggregateWithReport(context.Background(), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Affected)
	assert.Equal(t, []int64{999}, report.Orphaned)
}

func TestAggregator_ConcurrentInsertRetriesAsUpdate(t *testing.T) {
	store := newMemoryStore(stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"))
	earlier := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	racerID := uuid.New()
	store.racer = &models.AdvParam{
		ID:        racerID,
		NmID:      100,
		Date:      day1,
		Views:     50,
		CreatedAt: earlier,
		UpdatedAt: earlier,
	}
	a := newTestAggregator(store)

	report, err := a.AggregateWithReport(context.Background(), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)

	p, _ := store.param(100, day1)
	assert.Equal(t, racerID, p.ID)
	assert.Equal(t, int64(100), p.Views)
	assert.Equal(t, earlier, p.CreatedAt)
	assert.True(t, p.UpdatedAt.After(earlier))
}

func TestAggregator_Cancelled(t *testing.T) {
	store := newMemoryStore(stat(11, 100, day1, 100, 5, "10.00", 1, "500.00"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAggregator(store).Aggregate(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupDailyStats(t *testing.T) {
	day2 := day1.AddDate(0, 0, 1)
	late := stat(30, 100, day1, 1, 0, "0.00", 0, "0.00")
	early := stat(20, 100, day1, 1, 0, "0.00", 0, "0.00")
	early.VendorCode = ""
	middle := stat(25, 100, day1, 1, 0, "0.00", 0, "0.00")
	middle.VendorCode = "VC-FIRST"

	groups := GroupDailyStats([]models.CampaignDailyStat{
		stat(11, 200, day2, 1, 0, "0.00", 0, "0.00"),
		late,
		early,
		middle,
		stat(11, 50, day1, 1, 0, "0.00", 0, "0.00"),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, int64(50), groups[0].NmID)
	assert.Equal(t, int64(100), groups[1].NmID)
	assert.Equal(t, int64(200), groups[2].NmID)
	assert.Equal(t, "VC-FIRST", groups[1].VendorCode)
	assert.Equal(t, int64(3), groups[1].Views)
}

func TestGroupDailyStats_NormalizesTimeOfDay(t *testing.T) {
	withTime := stat(11, 100, day1.Add(15*time.Hour), 1, 0, "0.00", 0, "0.00")
	groups := GroupDailyStats([]models.CampaignDailyStat{withTime, stat(12, 100, day1, 2, 0, "0.00", 0, "0.00")})

	require.Len(t, groups, 1)
	assert.Equal(t, day1, groups[0].Date)
	assert.Equal(t, int64(3), groups[0].Views)
}
