package marketplace

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	nmReportPath = "/api/v2/nm-report/detail"

	// nmReportTimeLayout is the period format the analytics API expects.
	nmReportTimeLayout = "2006-01-02 15:04:05"
	maxNmReportPages   = 1000
)

var ErrNmReportPages = errors.New("nm report did not finish paging")

type nmReportPeriod struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

type nmReportOrderBy struct {
	Field string `json:"field"`
	Mode  string `json:"mode"`
}

type nmReportRequest struct {
	BrandNames []string        `json:"brandNames"`
	ObjectIDs  []int64         `json:"objectIDs"`
	TagIDs     []int64         `json:"tagIDs"`
	NmIDs      []int64         `json:"nmIDs"`
	Timezone   string          `json:"timezone"`
	Period     nmReportPeriod  `json:"period"`
	OrderBy    nmReportOrderBy `json:"orderBy"`
	Page       int             `json:"page"`
}

// FetchNmReport pulls the funnel report for [begin, end] in loc across every page. The
// selected period of each card covers the window and the previous period the day before.
func (c *Client) FetchNmReport(ctx context.Context, begin, end time.Time, loc *time.Location) (*models.NmReport, error) {
	if begin.After(end) {
		return nil, ErrInvalidPeriod
	}

	req := nmReportRequest{
		BrandNames: []string{},
		ObjectIDs:  []int64{},
		TagIDs:     []int64{},
		NmIDs:      []int64{},
		Timezone:   loc.String(),
		Period: nmReportPeriod{
			Begin: begin.In(loc).Format(nmReportTimeLayout),
			End:   end.In(loc).Format(nmReportTimeLayout),
		},
		OrderBy: nmReportOrderBy{Field: "openCard", Mode: "desc"},
	}

	report := &models.NmReport{Data: &models.NmReportData{Page: 1, Cards: []models.NmReportCard{}}}
	for page := 1; page <= maxNmReportPages; page++ {
		req.Page = page

		var resp models.NmReport
		err := c.do(ctx, request{
			limiter: c.analyticsLimiter,
			method:  http.MethodPost,
			url:     c.config.AnalyticsBaseURL + nmReportPath,
			body:    req,
			retry:   true,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if resp.Data == nil {
			// the caller's structure check reports the missing envelope
			if page == 1 {
				return &resp, nil
			}
			return report, nil
		}

		report.Data.Cards = append(report.Data.Cards, resp.Data.Cards...)
		c.logger.WithContext(ctx).WithFields(map[string]any{"page": page, "cards": len(resp.Data.Cards)}).Debug("Fetched nm report page")

		if !resp.Data.IsNextPage {
			return report, nil
		}
	}
	return nil, ErrNmReportPages
}
