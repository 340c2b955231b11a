package crstats

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Places is the scale of stored amounts and percentages.
const Places = 2

// Warning is a card or row that was skipped without failing the run.
type Warning struct {
	NmID    int64  `json:"nm_id"`
	Date    string `json:"date,omitempty"`
	Message string `json:"message"`
}

// Period returns the report window for now in loc: local midnight up to now, second precision.
func Period(now time.Time, loc *time.Location) (begin, end time.Time) {
	local := now.In(loc)
	begin = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return begin, local.Truncate(time.Second)
}

// Days returns the calendar days the selected and previous periods belong to, as UTC dates.
func Days(now time.Time, loc *time.Location) (today, yesterday time.Time) {
	local := now.In(loc)
	today = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return today, today.AddDate(0, 0, -1)
}

// OrderPrice is the average order value, undefined without orders. It rounds half to even.
func OrderPrice(p *models.NmReportPeriod) decimal.NullDecimal {
	if p == nil || p.OrdersCount == nil || *p.OrdersCount <= 0 || p.OrdersSumRub == nil {
		return decimal.NullDecimal{}
	}
	price := p.OrdersSumRub.Div(decimal.NewFromInt(*p.OrdersCount)).RoundBank(Places)
	return decimal.NewNullDecimal(price)
}

// Transform builds today's rows (with the stocks snapshot) from the selected period and
// yesterday's rows (without stocks) from the previous period. Cards without nmID or
// vendorCode are skipped, as are repeats of an nmID already seen.
func Transform(cards []models.NmReportCard, today time.Time) (todays, yesterdays []models.ConversionDailyStat, warnings []Warning) {
	yesterday := today.AddDate(0, 0, -1)
	seen := make(map[int64]struct{}, len(cards))

	for _, card := range cards {
		if card.NmID == nil || *card.NmID <= 0 || card.VendorCode == nil || *card.VendorCode == "" {
			nmID := int64(0)
			if card.NmID != nil {
				nmID = *card.NmID
			}
			warnings = append(warnings, Warning{NmID: nmID, Message: "card without nmID or vendorCode, skipped"})
			continue
		}
		if _, dup := seen[*card.NmID]; dup {
			warnings = append(warnings, Warning{NmID: *card.NmID, Message: "duplicate card, skipped"})
			continue
		}
		seen[*card.NmID] = struct{}{}
		if card.Statistics == nil {
			continue
		}

		if p := card.Statistics.SelectedPeriod; p != nil {
			row := buildRow(*card.NmID, *card.VendorCode, today, p)
			if card.Stocks != nil {
				row.HasStocks = true
				row.StocksMp = card.Stocks.StocksMp
				row.StocksWb = card.Stocks.StocksWb
			}
			todays = append(todays, row)
		}
		if p := card.Statistics.PreviousPeriod; p != nil {
			yesterdays = append(yesterdays, buildRow(*card.NmID, *card.VendorCode, yesterday, p))
		}
	}
	return todays, yesterdays, warnings
}

func buildRow(nmID int64, vendorCode string, date time.Time, p *models.NmReportPeriod) models.ConversionDailyStat {
	row := models.ConversionDailyStat{
		NmID:           nmID,
		VendorCode:     vendorCode,
		Date:           date,
		OpenCardCount:  p.OpenCardCount,
		AddToCartCount: p.AddToCartCount,
		OrdersCount:    p.OrdersCount,
		CancelCount:    p.CancelCount,
		OrdersSumRub:   scaled(p.OrdersSumRub),
		OrderPrice:     OrderPrice(p),
	}
	if p.Conversions != nil {
		row.AddToCartPercent = scaled(p.Conversions.AddToCartPercent)
		row.CartToOrderPercent = scaled(p.Conversions.CartToOrderPercent)
	}
	return row
}

// scaled rounds to the column scale the way postgres numeric does, so a stored row reads
// back equal to what was written.
func scaled(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(Places))
}

// Enrich sets product ids by nm_id and drops rows whose product is unknown.
func Enrich(rows []models.ConversionDailyStat, productIDs map[int64]uuid.UUID) (kept []models.ConversionDailyStat, warnings []Warning) {
	for _, row := range rows {
		id, ok := productIDs[row.NmID]
		if !ok || id == uuid.Nil {
			warnings = append(warnings, Warning{NmID: row.NmID, Date: row.Date.Format(time.DateOnly), Message: "nm_id not found in products, skipped"})
			continue
		}
		row.ProductID = id
		kept = append(kept, row)
	}
	return kept, warnings
}

// NmIDs returns the distinct nm_ids of rows in first-seen order.
func NmIDs(rows ...[]models.ConversionDailyStat) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, batch := range rows {
		for _, row := range batch {
			if _, ok := seen[row.NmID]; ok {
				continue
			}
			seen[row.NmID] = struct{}{}
			ids = append(ids, row.NmID)
		}
	}
	return ids
}
