package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NmReport is the response of the per-product funnel report. Fields are pointers so a
// missing key can be told apart from a zero.
type NmReport struct {
	Data *NmReportData `json:"data"`
}

type NmReportData struct {
	Page       int            `json:"page"`
	IsNextPage bool           `json:"isNextPage"`
	Cards      []NmReportCard `json:"cards"`
}

type NmReportCard struct {
	NmID       *int64              `json:"nmID"`
	VendorCode *string             `json:"vendorCode"`
	Statistics *NmReportStatistics `json:"statistics"`
	Stocks     *NmReportStocks     `json:"stocks"`
}

// NmReportStatistics holds the requested period (today) and the one before it (yesterday).
type NmReportStatistics struct {
	SelectedPeriod *NmReportPeriod `json:"selectedPeriod"`
	PreviousPeriod *NmReportPeriod `json:"previousPeriod"`
}

type NmReportPeriod struct {
	OpenCardCount  *int64               `json:"openCardCount"`
	AddToCartCount *int64               `json:"addToCartCount"`
	OrdersCount    *int64               `json:"ordersCount"`
	OrdersSumRub   *decimal.Decimal     `json:"ordersSumRub"`
	CancelCount    *int64               `json:"cancelCount"`
	Conversions    *NmReportConversions `json:"conversions"`
}

type NmReportConversions struct {
	AddToCartPercent   *decimal.Decimal `json:"addToCartPercent"`
	CartToOrderPercent *decimal.Decimal `json:"cartToOrderPercent"`
}

type NmReportStocks struct {
	StocksMp *int64 `json:"stocksMp"`
	StocksWb *int64 `json:"stocksWb"`
}

// ConversionDailyStat is a row of cr_daily_stats: one product's funnel for one day.
// Stocks are a snapshot taken at fetch time, so only today's row carries them.
type ConversionDailyStat struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	ProductID          uuid.UUID           `db:"product_id" json:"product_id"`
	NmID               int64               `db:"nm_id" json:"nm_id"`
	VendorCode         string              `db:"vendor_code" json:"vendor_code"`
	Date               time.Time           `db:"date_of_period" json:"date_of_period"`
	OpenCardCount      *int64              `db:"open_card_count" json:"open_card_count"`
	AddToCartCount     *int64              `db:"add_to_cart_count" json:"add_to_cart_count"`
	OrdersCount        *int64              `db:"orders_count" json:"orders_count"`
	CancelCount        *int64              `db:"cancel_count" json:"cancel_count"`
	OrdersSumRub       decimal.NullDecimal `db:"orders_sum_rub" json:"orders_sum_rub"`
	AddToCartPercent   decimal.NullDecimal `db:"add_to_cart_percent" json:"add_to_cart_percent"`
	CartToOrderPercent decimal.NullDecimal `db:"cart_to_order_percent" json:"cart_to_order_percent"`
	OrderPrice         decimal.NullDecimal `db:"order_price" json:"order_price"`
	StocksMp           *int64              `db:"stocks_mp" json:"stocks_mp"`
	StocksWb           *int64              `db:"stocks_wb" json:"stocks_wb"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`

	HasStocks bool `db:"-" json:"-"`
}
