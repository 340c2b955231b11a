package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/config"
	advstatsrepo "github.com/Ramsey-B/clover/internal/repositories/advstats"
	crstatsrepo "github.com/Ramsey-B/clover/internal/repositories/crstats"
	productrepo "github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/internal/services/advsync"
	"github.com/Ramsey-B/clover/internal/services/catalogsync"
	"github.com/Ramsey-B/clover/internal/services/crsync"
	"github.com/Ramsey-B/clover/pkg/advstats"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/marketplace"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// App owns the process-wide connections and the services built on them.
type App struct {
	Config      *config.Config
	Logger      ectologger.Logger
	DB          database.DB
	Redis       *redis.Client
	Producer    *kafka.Producer
	CatalogSync *catalogsync.Service
	AdvSync     *advsync.Service
	CrSync      *crsync.Service
	Health      *health.Checker

	startup       *startup.Startup
	traceShutdown func(context.Context) error
}

// Options select which dependencies a command needs.
type Options struct {
	Migrate bool
	// SkipServices stops after migrations, for the migrate command.
	SkipServices bool
}

// New starts every configured dependency and wires the services. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger ectologger.Logger, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Health:  health.NewChecker(cfg.Version),
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}

	shutdown, err := tracing.Init(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.traceShutdown = shutdown

	a.startup.AddDependency(startup.Func{
		Name: "postgres",
		OnStart: func(ctx context.Context) error {
			db, err := database.Connect(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			a.DB = db
			return nil
		},
		OnStop: func(context.Context) error {
			if a.DB == nil {
				return nil
			}
			return a.DB.Close()
		},
	})

	if opts.Migrate {
		a.startup.AddDependency(startup.Func{
			Name:     "migrations",
			Requires: []string{"postgres"},
			OnStart: func(context.Context) error {
				return database.NewMigrationService(logger, cfg.Migration()).MigratePostgres(a.DB, cfg.DatabaseName)
			},
		})
	}

	if cfg.RedisEnabled() && !opts.SkipServices {
		a.startup.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, cfg.Redis(), logger)
				if err != nil {
					return err
				}
				a.Redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				if a.Redis == nil {
					return nil
				}
				return a.Redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled() && !opts.SkipServices {
		a.startup.AddDependency(startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				a.Producer = kafka.NewProducer(cfg.Kafka(), logger)
				return nil
			},
			OnStop: func(context.Context) error {
				if a.Producer == nil {
					return nil
				}
				return a.Producer.Close()
			},
		})
	}

	if err := a.startup.Start(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	if !opts.SkipServices {
		a.wire()
	}
	a.Health.SetReady(true)
	return a, nil
}

func (a *App) wire() {
	cfg, logger := a.Config, a.Logger

	var publisher events.Publisher
	if a.Producer != nil {
		publisher = a.Producer
	}
	emitter := events.NewEmitter(publisher, logger)

	var locker advsync.Locker
	if a.Redis != nil {
		locker = redis.NewLocker(a.Redis, "")
		a.Health.Optional("redis", a.Redis)
	}
	a.Health.Require("database", health.PingFunc(a.DB.PingContext))

	client := marketplace.NewClient(cfg.Marketplace(), logger)
	products := productrepo.NewRepository(a.DB, logger)
	stats := advstatsrepo.NewRepository(a.DB, logger)

	a.CatalogSync = catalogsync.NewService(catalogsync.Config{
		ExclusionsPath:  cfg.CatalogExclusionsPath,
		HaltOnRejection: cfg.CatalogHaltOnRejection,
	}, client, products, emitter, logger)

	a.AdvSync = advsync.NewService(advsync.Config{
		MinViews:     cfg.AdvStatsMinViews,
		LookbackDays: cfg.AdvStatsLookbackDays,
		Statuses:     cfg.AdvStatsCampaignStatuses,
		LockTTL:      cfg.AggregationLockTTL,
	}, client, statsStore{products, stats}, advstats.NewAggregator(stats, logger), locker, emitter, logger)

	a.CrSync = crsync.NewService(crsync.Config{
		Location: cfg.CrStatsLocation(),
	}, client, products, crstatsrepo.NewRepository(a.DB, logger), logger)
}

// statsStore joins the vendor code lookup of the catalog with the stats writer.
type statsStore struct {
	*productrepo.Repository
	stats *advstatsrepo.Repository
}

func (s statsStore) UpsertDailyStats(ctx context.Context, rows []models.CampaignDailyStat) (int, error) {
	return s.stats.UpsertDailyStats(ctx, rows)
}

// Server builds the echo control surface.
func (a *App) Server() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(a.Logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(a.Config.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.Logger))
	e.Use(echomiddleware.BodyLimit(a.Config.HttpBodyLimit))

	routes.Register(e, a.Health, a.CatalogSync, a.AdvSync, a.CrSync)
	return e
}

// Serve runs the control surface until ctx is cancelled, then drains in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	e := a.Server()
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(a.Config.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(a.Config.HttpServerIdleTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (a *App) Close(ctx context.Context) error {
	err := a.startup.Stop(ctx)
	if a.traceShutdown != nil {
		if terr := a.traceShutdown(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}
