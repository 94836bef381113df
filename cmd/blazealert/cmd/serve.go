package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api"
	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation scheduler, silence API and metrics server",
	Long: `Run evaluation passes every engine.tick, serve the silence token API
with health checks on http.address and Prometheus metrics on metrics.address.
When engine.history_retention is set, older history rows are pruned once per day.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	scheduler := alerting.NewScheduler(a.engine, a.store.AlertHistory(), alerting.SchedulerConfig{
		Tick:       cfg.Engine.Tick,
		Retention:  cfg.Engine.HistoryRetention,
		PruneEvery: 24 * time.Hour,
	}, a.logger)

	apiServer, err := api.New(&api.Config{
		Address:        cfg.HTTP.Address,
		APIToken:       cfg.HTTP.APIToken,
		PublicURL:      cfg.HTTP.PublicURL,
		RateLimitPerIP: cfg.HTTP.RateLimitPerIP,
		Verbose:        verbose,
	}, a.store, a.silences, a.logger)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(a.store.DB()))
	apiServer.RegisterHealthChecker(health.NewSchedulerChecker(scheduler.LastRun, 3*cfg.Engine.Tick))
	apiServer.SetPassReporter(func() (health.PassSummary, bool) {
		report := scheduler.LastReport()
		if report == nil {
			return health.PassSummary{}, false
		}
		return health.PassSummary{
			At:        report.Now.UTC(),
			Evaluated: report.Evaluated,
			Skipped:   report.Skipped,
			Failed:    report.Failed,
		}, true
	})

	if !a.silences.Enabled() {
		a.logger.Warn().Msg("silence.secret not set, silence tokens disabled")
	}

	a.logger.Info().
		Str("version", config.Version).
		Str("provider", cfg.Provider).
		Dur("tick", cfg.Engine.Tick).
		Msg("starting blazealert")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.Metrics.Address != "-" {
		metricsServer := metrics.NewServer(cfg.Metrics.Address, a.logger)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	a.logger.Info().Msg("blazealert stopped")
	return nil
}
