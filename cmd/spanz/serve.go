package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/spanz"
	"github.com/zoobzio/spanz/internal/config"
	"github.com/zoobzio/spanz/internal/logging"
	"github.com/zoobzio/spanz/internal/metrics"
	"github.com/zoobzio/spanz/internal/server"
)

// statsInterval is how often serve logs store counters.
const statsInterval = 30 * time.Second

// serveFlags holds the flags for the serve command.
type serveFlags struct {
	port    string
	journal string
}

func newServeCmd() *cobra.Command {
	var opts serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo HTTP service",
		Long: `Run the demo HTTP service with tracing enabled.

Settings come from SPANZ_* environment variables; --port and --journal
override them. Finished spans are appended to the journal file and can be
browsed at /traces while the service runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.port
			}
			if cmd.Flags().Changed("journal") {
				cfg.Trace.JournalPath = opts.journal
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "Listen port (default from SPANZ_PORT)")
	cmd.Flags().StringVarP(&opts.journal, "journal", "j", "", "Journal file (default from SPANZ_JOURNAL)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal := spanz.NewFileJournal(cfg.Trace.JournalPath)
	store := spanz.NewStore(journal, logger.Named("store"))
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	if cfg.Trace.HandlerWorkers > 0 {
		if err := store.EnableWorkerPool(cfg.Trace.HandlerWorkers, cfg.Trace.HandlerQueue); err != nil {
			return fmt.Errorf("enable handler workers: %w", err)
		}
	}

	m := metrics.New(store)
	defer m.Close()

	srv := server.New(server.Options{
		Tracer:      spanz.NewTracer(store),
		Metrics:     m,
		Logger:      logger.Named("http"),
		ErrorRate:   cfg.Demo.ErrorRate,
		Development: cfg.Logging.Development,
	})

	logger.Info("spanz starting",
		zap.String("addr", cfg.Addr()),
		zap.String("journal", journal.Path()),
		zap.Int("handler_workers", cfg.Trace.HandlerWorkers),
		zap.Float64("error_rate", cfg.Demo.ErrorRate),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, cfg.Addr())
	})
	g.Go(func() error {
		reportStats(ctx, store, logger.Logger, statsInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("spanz stopped",
		zap.Int("finished", store.CountTotalFinished()),
		zap.Uint64("persist_failures", store.PersistFailures()),
	)
	return nil
}

// reportStats logs store counters every interval until ctx is done.
func reportStats(ctx context.Context, store *spanz.Store, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("trace stats",
				zap.Int("active", store.CountActive()),
				zap.Int("finished", store.CountTotalFinished()),
				zap.Uint64("persist_failures", store.PersistFailures()),
				zap.Uint64("dropped_notifications", store.DroppedNotifications()),
			)
		}
	}
}
