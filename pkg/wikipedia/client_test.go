package wikipedia

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) Client {
	return NewClient(WithBaseURL(srv.URL), WithRateLimit(0), WithBackoff(time.Millisecond))
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "query", q.Get("action"))
		assert.Equal(t, "search", q.Get("list"))
		assert.Equal(t, "Acme Corporation", q.Get("srsearch"))
		assert.Equal(t, "1", q.Get("srlimit"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "2", q.Get("formatversion"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"query":{"search":[{"title":"Acme Corporation"}]}}`))
	}))
	defer srv.Close()

	titles, err := newTestClient(srv).Search(context.Background(), "Acme Corporation", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corporation"}, titles)
}

func TestSearch_Empty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"search":[]}}`))
	}))
	defer srv.Close()

	titles, err := newTestClient(srv).Search(context.Background(), "zzzz", 1)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestSearch_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"badvalue","info":"bad srlimit"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Search(context.Background(), "Acme", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badvalue")
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"query":{"search":[{"title":"Acme"}]}}`))
	}))
	defer srv.Close()

	titles, err := newTestClient(srv).Search(context.Background(), "Acme", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, titles)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Search(context.Background(), "Acme", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Search(context.Background(), "Acme", 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func pageServer(t *testing.T, queryBody, parseBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "query":
			assert.Equal(t, "1", q.Get("redirects"))
			assert.Equal(t, "1", q.Get("explaintext"))
			w.Write([]byte(queryBody))
		case "parse":
			w.Write([]byte(parseBody))
		default:
			t.Errorf("unexpected action %q", q.Get("action"))
		}
	}))
}

func TestPage_Success(t *testing.T) {
	t.Parallel()

	srv := pageServer(t,
		`{"query":{"redirects":[{"from":"Acme","to":"Acme Corporation"}],"pages":[{"title":"Acme Corporation","fullurl":"https://en.wikipedia.org/wiki/Acme_Corporation","extract":"Acme makes anvils.\n\n== History ==\nFounded 1920."}]}}`,
		`{"parse":{"title":"Acme Corporation","text":"<table class=\"infobox\"></table>"}}`,
	)
	defer srv.Close()

	page, err := newTestClient(srv).Page(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", page.Title)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Acme_Corporation", page.URL)
	assert.Contains(t, page.HTML, "infobox")
	assert.Contains(t, page.Content, "== History ==")
}

func TestPage_Missing(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, `{"query":{"pages":[{"title":"Nope","missing":true}]}}`, "")
	defer srv.Close()

	_, err := newTestClient(srv).Page(context.Background(), "Nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPageNotFound))
}

func TestPage_Disambiguation(t *testing.T) {
	t.Parallel()

	srv := pageServer(t, `{"query":{"pages":[{"title":"Mercury","pageprops":{"disambiguation":""}}]}}`, "")
	defer srv.Close()

	_, err := newTestClient(srv).Page(context.Background(), "Mercury")
	require.Error(t, err)
	var de *DisambiguationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Mercury", de.Title)
}

func TestPage_ParseMissingTitle(t *testing.T) {
	t.Parallel()

	srv := pageServer(t,
		`{"query":{"pages":[{"title":"Gone"}]}}`,
		`{"error":{"code":"missingtitle","info":"The page you specified doesn't exist."}}`,
	)
	defer srv.Close()

	_, err := newTestClient(srv).Page(context.Background(), "Gone")
	assert.True(t, errors.Is(err, ErrPageNotFound))
}

func TestPage_FallbackURL(t *testing.T) {
	t.Parallel()

	srv := pageServer(t,
		`{"query":{"pages":[{"title":"AT&T Inc."}]}}`,
		`{"parse":{"title":"AT&T Inc.","text":"<p>x</p>"}}`,
	)
	defer srv.Close()

	page, err := newTestClient(srv).Page(context.Background(), "AT&T Inc.")
	require.NoError(t, err)
	assert.Equal(t, "https://en.wikipedia.org/wiki/AT&T_Inc.", page.URL)
}

func TestPage_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(WithBaseURL(srv.URL), WithRateLimit(0), WithBackoff(time.Hour)).Page(ctx, "Acme")
	require.Error(t, err)
}

func TestArticleURL(t *testing.T) {
	assert.Equal(t, "https://en.wikipedia.org/wiki/Acme_Corporation", ArticleURL("Acme Corporation"))
}
