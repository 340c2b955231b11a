package advsync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/advstats"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/marketplace"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	ingestPipeline    = "adv_stats_ingest"
	aggregatePipeline = "adv_params_aggregate"

	// AggregateLockKey is prefixed by the locker, giving clover:lock:aggregate.
	AggregateLockKey = "aggregate"
)

// StatsSource is the advertising side of the marketplace client.
type StatsSource interface {
	PromotionCount(ctx context.Context) (*models.PromotionCount, error)
	FullstatsBatch(ctx context.Context, ids []int64, begin, end time.Time) ([]models.FullstatsCampaign, error)
}

type StatsStore interface {
	VendorCodesByNmID(ctx context.Context, nmIDs []int64) (map[int64]string, error)
	UpsertDailyStats(ctx context.Context, rows []models.CampaignDailyStat) (int, error)
}

type Aggregator interface {
	AggregateWithReport(ctx context.Context, rng models.DateRange) (*advstats.AggregateReport, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type ChangeEmitter interface {
	EmitAdvParamsChanged(ctx context.Context, changes []advstats.ChangedParam) (int, error)
}

type Config struct {
	MinViews     int
	LookbackDays int
	Statuses     []int
	LockTTL      time.Duration
}

type IngestResult struct {
	RunID     string             `json:"run_id"`
	From      string             `json:"date_from"`
	To        string             `json:"date_to"`
	Campaigns int                `json:"campaigns"`
	Rows      int                `json:"rows"`
	Affected  int                `json:"affected"`
	Warnings  []advstats.Warning `json:"warnings"`
}

type AggregateResult struct {
	RunID  string                    `json:"run_id"`
	Report *advstats.AggregateReport `json:"report"`
	Events int                       `json:"events"`
}

type Service struct {
	config     Config
	source     StatsSource
	store      StatsStore
	aggregator Aggregator
	locker     Locker
	emitter    ChangeEmitter
	logger     ectologger.Logger
	now        func() time.Time
}

// NewService wires the adv stats pipelines. source, locker and emitter may be nil.
func NewService(cfg Config, source StatsSource, store StatsStore, aggregator Aggregator, locker Locker, emitter ChangeEmitter, logger ectologger.Logger) *Service {
	if cfg.LookbackDays < 1 {
		cfg.LookbackDays = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Service{
		config:     cfg,
		source:     source,
		store:      store,
		aggregator: aggregator,
		locker:     locker,
		emitter:    emitter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest pulls fullstats for the selected campaigns over [from, to] and stores them as
// campaign daily stats. Missing bounds default to the last LookbackDays days ending today.
func (s *Service) Ingest(ctx context.Context, from, to *time.Time) (res *IngestResult, err error) {
	ctx = withRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, "advsync.Service.Ingest")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveRun(ingestPipeline, start, err) }()

	begin, end := s.ingestRange(from, to)
	res = &IngestResult{
		RunID: appctx.GetRunID(ctx),
		From:  begin.Format(time.DateOnly),
		To:    end.Format(time.DateOnly),
	}
	if begin.After(end) {
		return res, httperror.NewHTTPError(http.StatusBadRequest, marketplace.ErrInvalidPeriod.Error())
	}
	if s.source == nil {
		return res, httperror.NewHTTPError(http.StatusBadRequest, "no marketplace client configured")
	}

	counts, err := s.source.PromotionCount(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list campaigns")
		return res, err
	}
	ids := marketplace.CampaignIDs(counts, s.config.Statuses...)
	res.Campaigns = len(ids)
	if len(ids) == 0 {
		s.logger.WithContext(ctx).Info("No campaigns to ingest")
		return res, nil
	}

	campaigns, err := s.source.FullstatsBatch(ctx, ids, begin, end)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"campaigns": len(ids)}).Error("Failed to fetch fullstats")
		return res, err
	}

	vendorCodes, err := s.store.VendorCodesByNmID(ctx, advstats.NmIDs(campaigns))
	if err != nil {
		return res, err
	}

	rows, warnings := advstats.Transform(campaigns, vendorCodes, s.config.MinViews)
	res.Rows = len(rows)
	res.Warnings = warnings
	for _, w := range warnings {
		s.logger.WithContext(ctx).WithFields(map[string]any{"advert_id": w.AdvertID, "nm_id": w.NmID, "date": w.Date}).Warn(w.Message)
	}

	if err := advstats.ValidateDailyStats(rows); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Campaign daily stats failed validation")
		return res, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	affected, err := s.store.UpsertDailyStats(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Affected = affected
	metrics.DailyStatsUpsertedTotal.Add(float64(affected))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"date_from": res.From,
		"date_to":   res.To,
		"campaigns": res.Campaigns,
		"rows":      res.Rows,
		"affected":  res.Affected,
		"warnings":  len(res.Warnings),
	}).Info("Ingested campaign daily stats")

	return res, nil
}

// Aggregate rebuilds adv params for [from, to]. With a locker configured only one
// aggregation runs at a time; a second caller gets a 409.
func (s *Service) Aggregate(ctx context.Context, from, to *time.Time) (res *AggregateResult, err error) {
	ctx = withRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, "advsync.Service.Aggregate")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveRun(aggregatePipeline, start, err) }()

	res = &AggregateResult{RunID: appctx.GetRunID(ctx)}
	if from != nil && to != nil && from.After(*to) {
		return res, httperror.NewHTTPError(http.StatusBadRequest, "date_from must not be after date_to")
	}

	run := func(ctx context.Context) error {
		report, err := s.aggregator.AggregateWithReport(ctx, models.DateRange{From: from, To: to})
		res.Report = report
		if report != nil {
			recordReport(report)
		}
		return err
	}

	if s.locker == nil {
		err = run(ctx)
	} else {
		err = s.locker.WithLock(ctx, AggregateLockKey, s.config.LockTTL, run)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return res, httperror.NewHTTPError(http.StatusConflict, "aggregation is already running")
		}
	}
	if err != nil {
		return res, err
	}

	if s.emitter != nil && res.Report != nil && len(res.Report.Changes) > 0 {
		n, emitErr := s.emitter.EmitAdvParamsChanged(ctx, res.Report.Changes)
		res.Events = n
		if emitErr != nil {
			s.logger.WithContext(ctx).WithError(emitErr).Error("Failed to publish adv params change events")
		}
	}

	return res, nil
}

// Affected is the aggregation's row count, zero when nothing ran.
func (r *AggregateResult) Affected() int {
	if r == nil || r.Report == nil {
		return 0
	}
	return r.Report.Affected
}

func (s *Service) ingestRange(from, to *time.Time) (time.Time, time.Time) {
	end := dateOnly(s.now())
	if to != nil {
		end = dateOnly(*to)
	}
	begin := end.AddDate(0, 0, -(s.config.LookbackDays - 1))
	if from != nil {
		begin = dateOnly(*from)
	}
	return begin, end
}

func recordReport(report *advstats.AggregateReport) {
	metrics.AdvParamsTotal.WithLabelValues("inserted").Add(float64(report.Inserted))
	metrics.AdvParamsTotal.WithLabelValues("changed").Add(float64(report.Changed))
	metrics.AdvParamsTotal.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	metrics.AdvParamsTotal.WithLabelValues("orphaned").Add(float64(len(report.Orphaned)))
}

func withRunID(ctx context.Context) context.Context {
	if appctx.GetRunID(ctx) != "" {
		return ctx
	}
	return appctx.SetRunID(ctx, uuid.New().String())
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
