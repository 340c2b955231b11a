package advstats

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/clover/pkg/models"
)

// DefaultMinViews drops products that were merged into a campaign card but never shown.
const DefaultMinViews = 1

// Warning is a non-blocking notice raised while transforming campaign stats.
type Warning struct {
	AdvertID int64  `json:"advert_id"`
	NmID     int64  `json:"nm_id,omitempty"`
	Date     string `json:"date,omitempty"`
	Message  string `json:"message"`
}

type nmTotals struct {
	views  int64
	clicks int64
	sum    decimal.Decimal
}

// Transform flattens fullstats campaigns into one row per campaign, product and day.
// Product metrics are summed across app platforms. Orders come from the day level.
func Transform(campaigns []models.FullstatsCampaign, vendorCodes map[int64]string, minViews int) ([]models.CampaignDailyStat, []Warning) {
	if minViews < 0 {
		minViews = 0
	}

	var rows []models.CampaignDailyStat
	var warnings []Warning

	for _, campaign := range campaigns {
		if campaign.AdvertID <= 0 {
			warnings = append(warnings, Warning{Message: "campaign without advertId skipped"})
			continue
		}

		for _, day := range campaign.Days {
			if day.Date == "" {
				warnings = append(warnings, Warning{AdvertID: campaign.AdvertID, Message: "day without date skipped"})
				continue
			}
			date, err := ParseStatDate(day.Date)
			if err != nil {
				warnings = append(warnings, Warning{AdvertID: campaign.AdvertID, Date: day.Date, Message: err.Error()})
				continue
			}

			totals, order := sumByNm(day.Apps)
			for _, nmID := range order {
				t := totals[nmID]
				if t.views < int64(minViews) {
					continue
				}

				vendorCode := vendorCodes[nmID]
				if vendorCode == "" {
					warnings = append(warnings, Warning{
						AdvertID: campaign.AdvertID,
						NmID:     nmID,
						Date:     date.Format(time.DateOnly),
						Message:  "nm_id not found in products, skipped",
					})
					continue
				}

				cpc, ctr, cpm := DailyRatios(t.sum, t.clicks, t.views)
				rows = append(rows, models.CampaignDailyStat{
					AdvertID:   campaign.AdvertID,
					NmID:       nmID,
					VendorCode: vendorCode,
					Date:       date,
					Views:      t.views,
					Clicks:     t.clicks,
					Sum:        Money(t.sum),
					CPC:        cpc,
					CTR:        ctr,
					CPM:        cpm,
					Orders:     day.Orders,
					OrdersSum:  Money(day.SumPrice),
				})
			}
		}
	}

	return rows, warnings
}

// sumByNm returns per-product totals across platforms and the product ids in first-seen order.
func sumByNm(apps []models.FullstatsApp) (map[int64]*nmTotals, []int64) {
	totals := make(map[int64]*nmTotals)
	var order []int64
	for _, app := range apps {
		for _, nm := range app.Nms {
			if nm.NmID <= 0 {
				continue
			}
			t, ok := totals[nm.NmID]
			if !ok {
				t = &nmTotals{}
				totals[nm.NmID] = t
				order = append(order, nm.NmID)
			}
			t.views += nm.Views
			t.clicks += nm.Clicks
			t.sum = t.sum.Add(nm.Sum)
		}
	}
	return totals, order
}

// ParseStatDate accepts RFC3339 timestamps and plain dates. A timestamp yields the calendar
// day in its own offset, not the UTC day.
func ParseStatDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return dateOnly(t), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stat date %q", s)
	}
	return t, nil
}

// NmIDs returns the distinct product ids referenced by the campaigns, sorted.
func NmIDs(campaigns []models.FullstatsCampaign) []int64 {
	seen := make(map[int64]struct{})
	for _, c := range campaigns {
		for _, d := range c.Days {
			for _, a := range d.Apps {
				for _, nm := range a.Nms {
					if nm.NmID > 0 {
						seen[nm.NmID] = struct{}{}
					}
				}
			}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
