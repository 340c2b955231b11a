package advstats

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/clover/pkg/models"
)

var maxCTR = decimal.NewFromInt(100)

type statKey struct {
	advertID int64
	nmID     int64
	date     string
}

// ValidateDailyStats checks rows before they are written and joins every violation into one error.
func ValidateDailyStats(rows []models.CampaignDailyStat) error {
	var errs []error
	seen := make(map[statKey]int, len(rows))

	for i, row := range rows {
		fail := func(format string, args ...any) {
			prefix := fmt.Sprintf("row %d (advert_id=%d nm_id=%d date=%s): ", i, row.AdvertID, row.NmID, row.Date.Format(time.DateOnly))
			errs = append(errs, errors.New(prefix+fmt.Sprintf(format, args...)))
		}

		if row.AdvertID <= 0 {
			fail("advert_id must be positive")
		}
		if row.NmID <= 0 {
			fail("nm_id must be positive")
		}
		if row.VendorCode == "" {
			fail("vendor_code is empty")
		}
		if row.Date.IsZero() {
			fail("date is missing")
		}
		if row.Views < 0 || row.Clicks < 0 || row.Orders < 0 {
			fail("counts must not be negative")
		}
		if row.Sum.IsNegative() || row.OrdersSum.IsNegative() {
			fail("amounts must not be negative")
		}
		if row.Clicks > row.Views {
			fail("clicks %d exceed views %d", row.Clicks, row.Views)
		}
		if row.CTR.Valid && (row.CTR.Decimal.IsNegative() || row.CTR.Decimal.GreaterThan(maxCTR)) {
			fail("ctr %s outside [0, 100]", row.CTR.Decimal.String())
		}
		if row.CPC.Valid && row.Clicks == 0 {
			fail("cpc set without clicks")
		}

		key := statKey{advertID: row.AdvertID, nmID: row.NmID, date: row.Date.Format(time.DateOnly)}
		if first, ok := seen[key]; ok {
			fail("duplicates row %d", first)
			continue
		}
		seen[key] = i
	}

	return errors.Join(errs...)
}
