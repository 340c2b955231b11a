// Package crsync runs the conversion stats pipeline: fetch the funnel report, store today's
// and yesterday's rows, read them back.
package crsync

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/crstats"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const pipeline = "cr_stats_sync"

// ReportSource is the analytics side of the marketplace client.
type ReportSource interface {
	FetchNmReport(ctx context.Context, begin, end time.Time, loc *time.Location) (*models.NmReport, error)
}

type ProductIDs interface {
	ProductIDsByNmID(ctx context.Context, nmIDs []int64) (map[int64]uuid.UUID, error)
}

type ConversionStore interface {
	UpsertConversionStats(ctx context.Context, rows []models.ConversionDailyStat) (int, error)
	ConversionStatsFor(ctx context.Context, date time.Time, nmIDs []int64) ([]models.ConversionDailyStat, error)
}

type Config struct {
	// Location decides where "today" starts. Defaults to UTC.
	Location *time.Location
}

type Result struct {
	RunID      string            `json:"run_id"`
	Today      string            `json:"today"`
	Yesterday  string            `json:"yesterday"`
	Cards      int               `json:"cards"`
	Rows       int               `json:"rows"`
	Affected   int               `json:"affected"`
	Warnings   []crstats.Warning `json:"warnings"`
	Mismatches []string          `json:"mismatches"`
}

type Service struct {
	config   Config
	source   ReportSource
	products ProductIDs
	store    ConversionStore
	logger   ectologger.Logger
	now      func() time.Time
}

// NewService wires the conversion stats pipeline. source may be nil when no marketplace
// token is configured.
func NewService(cfg Config, source ReportSource, products ProductIDs, store ConversionStore, logger ectologger.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		config:   cfg,
		source:   source,
		products: products,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Run fetches today's funnel report, upserts the selected period as today and the previous
// period as yesterday, then reads both days back and reports any difference.
func (s *Service) Run(ctx context.Context) (res *Result, err error) {
	ctx = withRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, "crsync.Service.Run")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveRun(pipeline, start, err) }()

	now := s.now()
	today, yesterday := crstats.Days(now, s.config.Location)
	res = &Result{
		RunID:     appctx.GetRunID(ctx),
		Today:     today.Format(time.DateOnly),
		Yesterday: yesterday.Format(time.DateOnly),
	}
	if s.source == nil {
		return res, httperror.NewHTTPError(http.StatusBadRequest, "no marketplace client configured")
	}

	begin, end := crstats.Period(now, s.config.Location)
	report, err := s.source.FetchNmReport(ctx, begin, end, s.config.Location)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to fetch nm report")
		return res, err
	}

	if err := crstats.ValidateStructure(report); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Nm report failed structure validation")
		return res, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	res.Cards = len(report.Data.Cards)
	if res.Cards == 0 {
		s.logger.WithContext(ctx).Info("Nm report has no cards")
		return res, nil
	}

	todays, yesterdays, warnings := crstats.Transform(report.Data.Cards, today)
	res.Warnings = append(res.Warnings, warnings...)

	productIDs, err := s.products.ProductIDsByNmID(ctx, crstats.NmIDs(todays, yesterdays))
	if err != nil {
		return res, err
	}
	todays, warnings = crstats.Enrich(todays, productIDs)
	res.Warnings = append(res.Warnings, warnings...)
	yesterdays, warnings = crstats.Enrich(yesterdays, productIDs)
	res.Warnings = append(res.Warnings, warnings...)

	for _, w := range res.Warnings {
		s.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": w.NmID, "date": w.Date}).Warn(w.Message)
	}
	metrics.ConversionStatsTotal.WithLabelValues("skipped").Add(float64(len(res.Warnings)))

	rows := append(append([]models.ConversionDailyStat{}, todays...), yesterdays...)
	res.Rows = len(rows)
	if len(rows) == 0 {
		return res, nil
	}

	affected, err := s.store.UpsertConversionStats(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Affected = affected
	metrics.ConversionStatsTotal.WithLabelValues("upserted").Add(float64(affected))

	res.Mismatches, err = s.verify(ctx, today, todays, yesterday, yesterdays)
	if err != nil {
		return res, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"today":      res.Today,
		"cards":      res.Cards,
		"rows":       res.Rows,
		"affected":   res.Affected,
		"warnings":   len(res.Warnings),
		"mismatches": len(res.Mismatches),
	}).Info("Synced conversion stats")

	return res, nil
}

// verify reads both days back. Differences are logged, not returned as errors.
func (s *Service) verify(ctx context.Context, today time.Time, todays []models.ConversionDailyStat, yesterday time.Time, yesterdays []models.ConversionDailyStat) ([]string, error) {
	var mismatches []string
	for _, day := range []struct {
		date time.Time
		rows []models.ConversionDailyStat
	}{
		{today, todays},
		{yesterday, yesterdays},
	} {
		if len(day.rows) == 0 {
			continue
		}
		stored, err := s.store.ConversionStatsFor(ctx, day.date, crstats.NmIDs(day.rows))
		if err != nil {
			return mismatches, err
		}
		mismatches = append(mismatches, crstats.Mismatches(day.rows, stored)...)
	}

	for _, m := range mismatches {
		s.logger.WithContext(ctx).WithFields(map[string]any{"mismatch": m}).Warn("Stored conversion stats differ")
	}
	metrics.ConversionStatsTotal.WithLabelValues("mismatched").Add(float64(len(mismatches)))
	return mismatches, nil
}

func withRunID(ctx context.Context) context.Context {
	if appctx.GetRunID(ctx) != "" {
		return ctx
	}
	return appctx.SetRunID(ctx, uuid.New().String())
}
