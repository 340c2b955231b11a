package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PromotionCount is the response of the campaign list endpoint.
type PromotionCount struct {
	All     int           `json:"all"`
	Adverts []AdvertGroup `json:"adverts"`
}

type AdvertGroup struct {
	Type       int         `json:"type"`
	Status     int         `json:"status"`
	Count      int         `json:"count"`
	AdvertList []AdvertRef `json:"advert_list"`
}

type AdvertRef struct {
	AdvertID   int64  `json:"advertId"`
	ChangeTime string `json:"changeTime"`
}

// FullstatsCampaign is one campaign of the detailed statistics response,
// broken down by day, then by app platform, then by product.
type FullstatsCampaign struct {
	AdvertID int64          `json:"advertId"`
	Days     []FullstatsDay `json:"days"`
}

type FullstatsDay struct {
	Date     string          `json:"date"`
	Orders   int64           `json:"orders"`
	SumPrice decimal.Decimal `json:"sum_price"`
	Apps     []FullstatsApp  `json:"apps"`
}

type FullstatsApp struct {
	AppType int           `json:"appType"`
	Nms     []FullstatsNm `json:"nms"`
}

type FullstatsNm struct {
	NmID   int64           `json:"nmId"`
	Name   string          `json:"name"`
	Views  int64           `json:"views"`
	Clicks int64           `json:"clicks"`
	Sum    decimal.Decimal `json:"sum"`
}

// CampaignDailyStat is a row of adv_campaign_daily_stats: one campaign, one product, one day.
type CampaignDailyStat struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	AdvertID   int64               `db:"advert_id" json:"advert_id"`
	NmID       int64               `db:"nm_id" json:"nm_id"`
	VendorCode string              `db:"vendor_code" json:"vendor_code"`
	Date       time.Time           `db:"date" json:"date"`
	Views      int64               `db:"views" json:"views"`
	Clicks     int64               `db:"clicks" json:"clicks"`
	CPC        decimal.NullDecimal `db:"cpc" json:"cpc"`
	CTR        decimal.NullDecimal `db:"ctr" json:"ctr"`
	Sum        decimal.Decimal     `db:"sum" json:"sum"`
	Orders     int64               `db:"orders" json:"orders"`
	OrdersSum  decimal.Decimal     `db:"orders_sum" json:"orders_sum"`
	CPM        decimal.NullDecimal `db:"cpm" json:"cpm"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`
}

// AdvParam is a row of adv_params: one product, one day, summed across campaigns.
// UpdatedAt moves only when a tracked field changes.
type AdvParam struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	NmID       int64               `db:"nm_id" json:"nm_id"`
	VendorCode string              `db:"vendor_code" json:"vendor_code"`
	Date       time.Time           `db:"date" json:"date"`
	Views      int64               `db:"views" json:"views"`
	Clicks     int64               `db:"clicks" json:"clicks"`
	Sum        decimal.NullDecimal `db:"sum" json:"sum"`
	CPC        decimal.NullDecimal `db:"cpc" json:"cpc"`
	CPM        decimal.NullDecimal `db:"cpm" json:"cpm"`
	CTR        decimal.NullDecimal `db:"ctr" json:"ctr"`
	Orders     int64               `db:"orders" json:"orders"`
	OrdersSum  decimal.NullDecimal `db:"orders_sum" json:"orders_sum"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`
}

// DateRange bounds are inclusive; a nil bound is open on that side.
type DateRange struct {
	From *time.Time `json:"date_from,omitempty"`
	To   *time.Time `json:"date_to,omitempty"`
}
