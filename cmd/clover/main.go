package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/app"
	"github.com/Ramsey-B/clover/internal/services/catalogsync"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clover:", err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg    *config.Config
	logger ectologger.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "clover",
		Short:         "Catalog and advertising metrics reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel, cfg.PrettyLogs)
			if err != nil {
				return err
			}
			rt.cfg, rt.logger = cfg, logger
			return nil
		},
	}

	root.AddCommand(
		newMigrateCmd(rt),
		newSyncCatalogCmd(rt),
		newIngestCmd(rt),
		newAggregateCmd(rt),
		newSyncCrStatsCmd(rt),
		newServeCmd(rt),
	)
	return root
}

// run starts the app for one command and logs the command's failure before returning it.
func (rt *runtime) run(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = appctx.SetRunID(ctx, uuid.New().String())

	a, err := app.New(ctx, rt.cfg, rt.logger, opts)
	if err != nil {
		rt.logger.WithContext(ctx).WithError(err).Error("Failed to start")
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			rt.logger.WithContext(ctx).WithError(err).Warn("Failed to close dependencies")
		}
	}()

	if err := fn(ctx, a); err != nil {
		rt.logger.WithContext(ctx).WithError(err).Errorf("%s failed", cmd.Name())
		return err
	}
	return nil
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd, app.Options{Migrate: true, SkipServices: true}, func(ctx context.Context, _ *app.App) error {
				rt.logger.WithContext(ctx).Info("Migrations applied")
				return nil
			})
		},
	}
}

func newSyncCatalogCmd(rt *runtime) *cobra.Command {
	var exclusions, input string
	var allowRejections bool

	cmd := &cobra.Command{
		Use:   "sync-catalog",
		Short: "Validate, filter and merge product cards into products and sizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cards []json.RawMessage
			if input != "" {
				var err error
				if cards, err = readCards(input); err != nil {
					return err
				}
			}

			return rt.run(cmd, rt.migrateOnStart(), func(ctx context.Context, a *app.App) error {
				res, err := a.CatalogSync.Run(ctx, catalogsync.Options{
					Cards:           cards,
					ExclusionsPath:  exclusions,
					AllowRejections: allowRejections,
				})
				if err != nil {
					return err
				}
				if res.Failed() {
					return fmt.Errorf("%d entities failed to merge: %w", res.Report.Totals.FailedEntities, res.Report.Err())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&exclusions, "exclusions", "", "YAML file of excluded nm_ids (overrides CATALOG_EXCLUSIONS_PATH)")
	cmd.Flags().StringVar(&input, "input", "", "JSON file with an array of cards instead of fetching from the marketplace")
	cmd.Flags().BoolVar(&allowRejections, "allow-rejections", false, "persist accepted cards even when some are rejected")
	return cmd
}

func newIngestCmd(rt *runtime) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "ingest-adv-stats",
		Short: "Fetch campaign fullstats and store campaign daily stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDate, toDate, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return rt.run(cmd, rt.migrateOnStart(), func(ctx context.Context, a *app.App) error {
				_, err := a.AdvSync.Ingest(ctx, fromDate, toDate)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: lookback window start)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: today)")
	return cmd
}

func newAggregateCmd(rt *runtime) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild adv params from campaign daily stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDate, toDate, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return rt.run(cmd, rt.migrateOnStart(), func(ctx context.Context, a *app.App) error {
				res, err := a.AdvSync.Aggregate(ctx, fromDate, toDate)
				if err != nil {
					return err
				}
				rt.logger.WithContext(ctx).WithField("affected", res.Affected()).Info("Aggregation finished")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: open)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: open)")
	return cmd
}

func newSyncCrStatsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-cr-stats",
		Short: "Fetch the funnel report and store today's and yesterday's conversion stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd, rt.migrateOnStart(), func(ctx context.Context, a *app.App) error {
				res, err := a.CrSync.Run(ctx)
				if err != nil {
					return err
				}
				rt.logger.WithContext(ctx).WithFields(map[string]any{
					"affected":   res.Affected,
					"mismatches": len(res.Mismatches),
				}).Info("Conversion stats sync finished")
				return nil
			})
		},
	}
}

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health checks, metrics and the pipeline trigger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd, rt.migrateOnStart(), func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func (rt *runtime) migrateOnStart() app.Options {
	return app.Options{Migrate: rt.cfg.DatabaseMigrateOnStart}
}

func readCards(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cards file")
	}
	var cards []json.RawMessage
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, errors.Wrap(err, "cards file must hold a JSON array")
	}
	return cards, nil
}

func parseRange(from, to string) (*time.Time, *time.Time, error) {
	fromDate, err := parseDate("from", from)
	if err != nil {
		return nil, nil, err
	}
	toDate, err := parseDate("to", to)
	if err != nil {
		return nil, nil, err
	}
	if fromDate != nil && toDate != nil && fromDate.After(*toDate) {
		return nil, nil, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return fromDate, toDate, nil
}

func parseDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return &t, nil
}
