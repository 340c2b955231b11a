package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	promotionCountPath = "/adv/v1/promotion/count"
	fullstatsPath      = "/adv/v3/fullstats"

	// MaxFullstatsCampaigns is the most campaign ids one fullstats request accepts.
	MaxFullstatsCampaigns = 100
	// MaxFullstatsDays is the longest inclusive period one fullstats request accepts.
	MaxFullstatsDays = 31
)

var (
	ErrNoCampaigns   = errors.New("campaign ids must not be empty")
	ErrTooManyIDs    = fmt.Errorf("at most %d campaign ids per request", MaxFullstatsCampaigns)
	ErrInvalidPeriod = errors.New("begin date must not be after end date")
	ErrPeriodTooLong = fmt.Errorf("period must not exceed %d days", MaxFullstatsDays)
)

// Campaign statuses used when selecting campaigns for stats.
const (
	StatusActive = 9
	StatusPaused = 11
	StatusDone   = 7
)

func (c *Client) PromotionCount(ctx context.Context) (*models.PromotionCount, error) {
	var resp models.PromotionCount
	err := c.do(ctx, request{
		limiter: c.advertLimiter,
		method:  http.MethodGet,
		url:     c.config.AdvertBaseURL + promotionCountPath,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CampaignIDs returns the distinct campaign ids of the given statuses, or of every status
// when none are given, in ascending order.
func CampaignIDs(resp *models.PromotionCount, statuses ...int) []int64 {
	if resp == nil {
		return nil
	}

	groups := resp.Adverts
	if len(statuses) > 0 {
		groups = ectolinq.Filter(groups, func(g models.AdvertGroup) bool {
			return ectolinq.Contains(statuses, g.Status)
		})
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, g := range groups {
		for _, a := range g.AdvertList {
			if _, ok := seen[a.AdvertID]; ok || a.AdvertID <= 0 {
				continue
			}
			seen[a.AdvertID] = struct{}{}
			ids = append(ids, a.AdvertID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ValidateFullstatsRequest applies the API's limits before any request is sent.
func ValidateFullstatsRequest(ids []int64, begin, end time.Time) error {
	if len(ids) == 0 {
		return ErrNoCampaigns
	}
	if len(ids) > MaxFullstatsCampaigns {
		return fmt.Errorf("%w: got %d", ErrTooManyIDs, len(ids))
	}
	if begin.After(end) {
		return ErrInvalidPeriod
	}
	if days := int(end.Sub(begin).Hours()/24) + 1; days > MaxFullstatsDays {
		return fmt.Errorf("%w: got %d", ErrPeriodTooLong, days)
	}
	return nil
}

// Fullstats fetches per-day statistics for up to 100 campaigns over at most 31 days.
func (c *Client) Fullstats(ctx context.Context, ids []int64, begin, end time.Time) ([]models.FullstatsCampaign, error) {
	begin, end = day(begin), day(end)
	if err := ValidateFullstatsRequest(ids, begin, end); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ectolinq.Map(ids, func(id int64) string { return strconv.FormatInt(id, 10) }), ","))
	query.Set("beginDate", begin.Format(time.DateOnly))
	query.Set("endDate", end.Format(time.DateOnly))

	var resp []models.FullstatsCampaign
	err := c.do(ctx, request{
		limiter: c.advertLimiter,
		method:  http.MethodGet,
		url:     c.config.AdvertBaseURL + fullstatsPath + "?" + query.Encode(),
		retry:   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FullstatsBatch splits ids into requests of at most 100 and concatenates the results.
// The advert limiter spaces the requests.
func (c *Client) FullstatsBatch(ctx context.Context, ids []int64, begin, end time.Time) ([]models.FullstatsCampaign, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	batches := chunk(ids, MaxFullstatsCampaigns)
	var all []models.FullstatsCampaign
	for i, batch := range batches {
		c.logger.WithContext(ctx).WithFields(map[string]any{"batch": i + 1, "batches": len(batches), "campaigns": len(batch)}).Info("Fetching campaign fullstats")

		campaigns, err := c.Fullstats(ctx, batch, begin, end)
		if err != nil {
			return nil, err
		}
		all = append(all, campaigns...)
	}
	return all, nil
}

func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
