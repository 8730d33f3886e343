package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/store"
	"github.com/sells-group/profile-resolver/pkg/wikipedia"
	"github.com/sells-group/profile-resolver/pkg/yahoo"
)

// signalContext is cancelled on SIGINT or SIGTERM. Search workers run in
// their own process group, so the terminal's signal only reaches this
// process and the supervisor tears them down through the context.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects to the configured backend and applies its schema.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "mongo":
		st, err = store.NewMongo(ctx, cfg.Store.DatabaseURL, cfg.Store.Database, cfg.Store.Collection)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "profile-resolver.db"
		}
		st, err = store.NewSQLite(dsn)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newWikipediaClient() wikipedia.Client {
	return wikipedia.NewClient(
		wikipedia.WithBaseURL(cfg.Wikipedia.APIURL),
		wikipedia.WithUserAgent(cfg.Wikipedia.UserAgent),
		wikipedia.WithRateLimit(cfg.Wikipedia.RateLimit),
	)
}

func newYahooClient() yahoo.Client {
	return yahoo.NewClient(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithCookieURL(cfg.Yahoo.CookieURL),
		yahoo.WithUserAgent(cfg.Yahoo.UserAgent),
		yahoo.WithRateLimit(cfg.Yahoo.RateLimit),
	)
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
