package advstats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestValidateDailyStats(t *testing.T) {
	valid := func() models.CampaignDailyStat {
		s := stat(11, 100, day1, 100, 5, "10.00", 1, "500.00")
		s.CPC = CPC(s.Sum, s.Clicks)
		s.CTR = CTR(s.Clicks, s.Views)
		s.CPM = CPM(s.Sum, s.Views)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(s *models.CampaignDailyStat)
		message string
	}{
		{name: "valid"},
		{name: "advert id", mutate: func(s *models.CampaignDailyStat) { s.AdvertID = 0 }, message: "advert_id must be positive"},
		{name: "nm id", mutate: func(s *models.CampaignDailyStat) { s.NmID = -1 }, message: "nm_id must be positive"},
		{name: "vendor code", mutate: func(s *models.CampaignDailyStat) { s.VendorCode = "" }, message: "vendor_code is empty"},
		{name: "negative views", mutate: func(s *models.CampaignDailyStat) { s.Views = -1; s.Clicks = -2 }, message: "counts must not be negative"},
		{name: "negative sum", mutate: func(s *models.CampaignDailyStat) { s.Sum = dec("-1") }, message: "amounts must not be negative"},
		{name: "clicks over views", mutate: func(s *models.CampaignDailyStat) { s.Clicks = 101 }, message: "clicks 101 exceed views 100"},
		{name: "ctr over 100", mutate: func(s *models.CampaignDailyStat) { s.CTR = decimal.NewNullDecimal(dec("100.01")) }, message: "outside [0, 100]"},
		{name: "cpc without clicks", mutate: func(s *models.CampaignDailyStat) { s.Clicks = 0 }, message: "cpc set without clicks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := valid()
			if tt.mutate != nil {
				tt.mutate(&row)
			}

			err := ValidateDailyStats([]models.CampaignDailyStat{row})
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestValidateDailyStats_Duplicates(t *testing.T) {
	a := stat(11, 100, day1, 100, 5, "10.00", 1, "500.00")
	b := stat(12, 100, day1, 100, 5, "10.00", 1, "500.00")

	assert.NoError(t, ValidateDailyStats([]models.CampaignDailyStat{a, b}))

	err := ValidateDailyStats([]models.CampaignDailyStat{a, b, a})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "row 2")
		assert.Contains(t, err.Error(), "duplicates row 0")
	}
}

func TestValidateDailyStats_JoinsAllViolations(t *testing.T) {
	bad := stat(0, 0, day1, 1, 2, "1.00", 0, "0.00")
	bad.VendorCode = ""

	err := ValidateDailyStats([]models.CampaignDailyStat{bad})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "advert_id must be positive")
		assert.Contains(t, err.Error(), "nm_id must be positive")
		assert.Contains(t, err.Error(), "vendor_code is empty")
		assert.Contains(t, err.Error(), "clicks 2 exceed views 1")
	}
}
