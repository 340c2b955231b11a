package crstats

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Mismatches compares what was written with what reads back for one day. Stocks are only
// compared on rows that carried them.
func Mismatches(expected, stored []models.ConversionDailyStat) []string {
	byNmID := make(map[int64]models.ConversionDailyStat, len(stored))
	for _, row := range stored {
		byNmID[row.NmID] = row
	}

	var out []string
	for _, want := range expected {
		got, ok := byNmID[want.NmID]
		if !ok {
			out = append(out, fmt.Sprintf("nm_id=%d date=%s: row is missing", want.NmID, want.Date.Format(time.DateOnly)))
			continue
		}

		report := func(field string, w, g string) {
			out = append(out, fmt.Sprintf("nm_id=%d date=%s: %s expected %s, stored %s", want.NmID, want.Date.Format(time.DateOnly), field, w, g))
		}

		if want.VendorCode != got.VendorCode {
			report("vendor_code", want.VendorCode, got.VendorCode)
		}
		for _, c := range []struct {
			field     string
			want, got *int64
		}{
			{"open_card_count", want.OpenCardCount, got.OpenCardCount},
			{"add_to_cart_count", want.AddToCartCount, got.AddToCartCount},
			{"orders_count", want.OrdersCount, got.OrdersCount},
			{"cancel_count", want.CancelCount, got.CancelCount},
		} {
			if !equalInt(c.want, c.got) {
				report(c.field, formatInt(c.want), formatInt(c.got))
			}
		}
		for _, c := range []struct {
			field     string
			want, got decimal.NullDecimal
		}{
			{"orders_sum_rub", want.OrdersSumRub, got.OrdersSumRub},
			{"add_to_cart_percent", want.AddToCartPercent, got.AddToCartPercent},
			{"cart_to_order_percent", want.CartToOrderPercent, got.CartToOrderPercent},
			{"order_price", want.OrderPrice, got.OrderPrice},
		} {
			if !equalDecimal(c.want, c.got) {
				report(c.field, formatDecimal(c.want), formatDecimal(c.got))
			}
		}
		if want.HasStocks {
			if !equalInt(want.StocksMp, got.StocksMp) {
				report("stocks_mp", formatInt(want.StocksMp), formatInt(got.StocksMp))
			}
			if !equalInt(want.StocksWb, got.StocksWb) {
				report("stocks_wb", formatInt(want.StocksWb), formatInt(got.StocksWb))
			}
		}
	}
	return out
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func formatInt(v *int64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *v)
}

func formatDecimal(v decimal.NullDecimal) string {
	if !v.Valid {
		return "null"
	}
	return v.Decimal.String()
}
