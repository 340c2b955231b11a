// Package crstats turns the per-product funnel report into cr_daily_stats rows.
package crstats

import (
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

var ErrMissingCards = errors.New("report has no data.cards")

// ValidateStructure checks that every card carries the keys the transform reads and joins
// every violation into one error. An empty card list is valid.
func ValidateStructure(report *models.NmReport) error {
	if report == nil || report.Data == nil || report.Data.Cards == nil {
		return ErrMissingCards
	}

	var errs []error
	for i, card := range report.Data.Cards {
		errs = append(errs, validateCard(i, card)...)
	}
	return errors.Join(errs...)
}

func validateCard(index int, card models.NmReportCard) []error {
	var errs []error
	fail := func(format string, args ...any) {
		prefix := fmt.Sprintf("card %d", index)
		if card.NmID != nil {
			prefix = fmt.Sprintf("card %d (nm_id=%d)", index, *card.NmID)
		}
		errs = append(errs, errors.New(prefix+": "+fmt.Sprintf(format, args...)))
	}

	if card.NmID == nil {
		fail("nmID is missing")
	}
	if card.VendorCode == nil {
		fail("vendorCode is missing")
	}

	if card.Statistics == nil {
		fail("statistics is missing")
	} else {
		for _, p := range []struct {
			name   string
			period *models.NmReportPeriod
		}{
			{"selectedPeriod", card.Statistics.SelectedPeriod},
			{"previousPeriod", card.Statistics.PreviousPeriod},
		} {
			for _, field := range missingPeriodFields(p.period) {
				fail("statistics.%s.%s is missing", p.name, field)
			}
		}
	}

	switch {
	case card.Stocks == nil:
		fail("stocks is missing")
	default:
		if card.Stocks.StocksMp == nil {
			fail("stocks.stocksMp is missing")
		}
		if card.Stocks.StocksWb == nil {
			fail("stocks.stocksWb is missing")
		}
	}
	return errs
}

func missingPeriodFields(p *models.NmReportPeriod) []string {
	if p == nil {
		return []string{"(period)"}
	}

	var missing []string
	if p.OpenCardCount == nil {
		missing = append(missing, "openCardCount")
	}
	if p.AddToCartCount == nil {
		missing = append(missing, "addToCartCount")
	}
	if p.OrdersCount == nil {
		missing = append(missing, "ordersCount")
	}
	if p.OrdersSumRub == nil {
		missing = append(missing, "ordersSumRub")
	}
	if p.CancelCount == nil {
		missing = append(missing, "cancelCount")
	}
	if p.Conversions == nil {
		return append(missing, "conversions")
	}
	if p.Conversions.AddToCartPercent == nil {
		missing = append(missing, "conversions.addToCartPercent")
	}
	if p.Conversions.CartToOrderPercent == nil {
		missing = append(missing, "conversions.cartToOrderPercent")
	}
	return missing
}
