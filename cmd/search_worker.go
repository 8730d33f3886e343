package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/config"
	"github.com/sells-group/profile-resolver/internal/source"
	"github.com/sells-group/profile-resolver/internal/worker"
	"github.com/sells-group/profile-resolver/pkg/browser"
)

var searchWorkerCmd = &cobra.Command{
	Use:    "search-worker",
	Short:  "Run one web-search lookup read from stdin (internal)",
	Hidden: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		if err := config.InitWorkerLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		return worker.Serve(ctx, os.Stdin, os.Stdout, searchFactory, millis(cfg.Search.RetryDelayMs))
	},
}

func browserOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.Bin = cfg.Browser.Bin
	opts.Headless = cfg.Browser.Headless
	opts.ProfileDir = cfg.Browser.ProfileDir
	opts.UserAgent = cfg.Browser.UserAgent
	if d := cfg.Browser.PageLoadTimeout(); d > 0 {
		opts.PageLoadTimeout = d
	}
	if d := cfg.Browser.ImplicitWait(); d > 0 {
		opts.ImplicitWait = d
	}
	return opts
}

// searchFactory launches the browser and wires it to the search adapter.
func searchFactory(ctx context.Context) (source.Adapter, func() error, error) {
	sess, err := browser.Launch(ctx, browserOptions())
	if err != nil {
		return nil, nil, err
	}
	zap.L().Debug("browser launched", zap.String("profile_dir", cfg.Browser.ProfileDir))
	adapter := source.NewSearch(sess, source.NewWikipedia(newWikipediaClient()), cfg.Search.Engine)
	return adapter, sess.Close, nil
}

func init() {
	rootCmd.AddCommand(searchWorkerCmd)
}
