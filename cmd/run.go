package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-resolver/internal/metrics"
	"github.com/sells-group/profile-resolver/internal/resilience"
	"github.com/sells-group/profile-resolver/internal/resolve"
	"github.com/sells-group/profile-resolver/internal/source"
	"github.com/sells-group/profile-resolver/internal/store"
	"github.com/sells-group/profile-resolver/internal/worker"
)

var (
	runBatchSize     int
	runProfileDir    string
	runMetricsAddr   string
	runForceSymbols  []string
	runSkipSearch    bool
	runSkipFinancial bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve one batch of unresolved records",
	Long: "Selects up to --batch-size unresolved records and tries the Wikipedia lookup, " +
		"the web-search fallback and the financial profile in turn. Per-record failures " +
		"are logged and counted; the command still exits 0.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		applyRunFlags()
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := forceSymbols(ctx, st, runForceSymbols); err != nil {
			return err
		}

		m := metrics.New()
		adapters, err := newAdapters(m)
		if err != nil {
			return err
		}

		orch := resolve.New(st, adapters, millis(cfg.Resolve.RecordDelayMs), m)

		sum, err := runWithMetrics(ctx, orch, m, cfg.Metrics.Addr, cfg.Resolve.BatchSize)
		if err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.String("run_id", sum.RunID),
			zap.Int("processed", sum.Processed),
			zap.Int("resolved", sum.Resolved),
		)
		return nil
	},
}

// applyRunFlags folds explicitly set flags over the loaded config.
func applyRunFlags() {
	if runBatchSize > 0 {
		cfg.Resolve.BatchSize = runBatchSize
	}
	if runProfileDir != "" {
		cfg.Browser.ProfileDir = runProfileDir
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}
	if runSkipSearch {
		cfg.Resolve.SkipSearch = true
	}
	if runSkipFinancial {
		cfg.Resolve.SkipFinancial = true
	}
}

func forceSymbols(ctx context.Context, st store.Store, symbols []string) error {
	for _, sym := range symbols {
		n, err := st.Reset(ctx, sym)
		if err != nil {
			return eris.Wrapf(err, "reset %s", sym)
		}
		zap.L().Info("cleared resolution for re-run", zap.String("symbol", sym), zap.Int("records", n))
	}
	return nil
}

// newAdapters builds the fallback chain from config. The search step runs in
// a child search-worker process so a hung browser cannot stall the batch.
func newAdapters(m *metrics.Metrics) (resolve.Adapters, error) {
	adapters := resolve.Adapters{
		Primary: source.NewWikipedia(newWikipediaClient()),
	}

	if !cfg.Resolve.SkipSearch {
		var env []string
		if cfg.Browser.ProfileDir != "" {
			env = append(env, "RESOLVER_BROWSER_PROFILE_DIR="+cfg.Browser.ProfileDir)
		}
		sup, err := worker.NewSupervisor(
			worker.WithGrace(seconds(cfg.Search.GraceSecs)),
			worker.WithEnv(env...),
		)
		if err != nil {
			return adapters, err
		}
		adapters.Search = resolve.NewSearchDispatcher(sup, resolve.DispatchConfig{
			Deadline:        seconds(cfg.Search.DeadlineSecs),
			Retries:         cfg.Search.Retries,
			BreakerFailures: cfg.Search.BreakerFailures,
			BreakerReset:    seconds(cfg.Search.BreakerResetSec),
			OnBreakerChange: func(_, to resilience.CircuitState) {
				m.ObserveBreaker(resolve.BreakerName, int(to))
			},
		})
	}

	if !cfg.Resolve.SkipFinancial {
		adapters.Financial = source.NewFinance(newYahooClient())
	}
	return adapters, nil
}

// runWithMetrics runs one batch, exposing /metrics on addr for its duration
// when addr is set.
func runWithMetrics(ctx context.Context, orch *resolve.Orchestrator, m *metrics.Metrics, addr string, batchSize int) (*resolve.Summary, error) {
	if addr == "" {
		return orch.Run(ctx, batchSize)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	var sum *resolve.Summary
	g.Go(func() error {
		zap.L().Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "metrics listen")
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		var err error
		sum, err = orch.Run(gctx, batchSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}

func init() {
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "records to process (default from config)")
	runCmd.Flags().StringVar(&runProfileDir, "profile-dir", "", "browser user-data directory for the search worker")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	runCmd.Flags().StringSliceVar(&runForceSymbols, "force-symbol", nil, "clear existing resolution for these symbols before the run")
	runCmd.Flags().BoolVar(&runSkipSearch, "skip-search", false, "disable the web-search fallback")
	runCmd.Flags().BoolVar(&runSkipFinancial, "skip-financial", false, "disable the financial-profile fallback")
	rootCmd.AddCommand(runCmd)
}
