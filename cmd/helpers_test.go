package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-resolver/internal/config"
	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/internal/store"
)

// testConfig points the package-level config at a fresh SQLite file.
func testConfig(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "resolver.db")
	cfg = &config.Config{
		Store:   config.StoreConfig{Driver: "sqlite", DatabaseURL: dbPath},
		Search:  config.SearchConfig{Retries: 1, DeadlineSecs: 5, GraceSecs: 1},
		Resolve: config.ResolveConfig{BatchSize: 10, SkipSearch: true, SkipFinancial: true},
		Server:  config.ServerConfig{CORSOrigins: []string{"*"}},
	}
	return dbPath
}

func seedStore(t *testing.T, recs ...model.Record) {
	t.Helper()
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	_, err = st.Upsert(context.Background(), recs)
	require.NoError(t, err)
}

func loadRecords(t *testing.T, symbol string) []model.Record {
	t.Helper()
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	recs, err := st.Get(context.Background(), symbol)
	require.NoError(t, err)
	return recs
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := openStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

const acmeInfobox = `<table class="infobox vcard"><tr><th>Traded as</th><td>NASDAQ: ABC</td></tr><tr><th>Founded</th><td>1949</td></tr></table>`

// fakeWikipedia answers the three MediaWiki calls made by the primary
// lookup. Searches for anything other than Acme return no hits.
func fakeWikipedia(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		infobox, _ := json.Marshal(acmeInfobox)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("list") == "search":
			if q.Get("srsearch") == "Acme Corporation" {
				_, _ = w.Write([]byte(`{"query":{"search":[{"title":"Acme Corporation"}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"query":{"search":[]}}`))
		case q.Get("action") == "parse":
			_, _ = w.Write([]byte(`{"parse":{"title":"Acme Corporation","text":` + string(infobox) + `}}`))
		default:
			_, _ = w.Write([]byte(`{"query":{"pages":[{"title":"Acme Corporation","fullurl":"https://en.wikipedia.org/wiki/Acme_Corporation","extract":"Acme makes anvils."}]}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
