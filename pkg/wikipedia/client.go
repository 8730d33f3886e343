// Package wikipedia provides a client for the MediaWiki Action API.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrPageNotFound is returned when a title resolves to no article.
var ErrPageNotFound = eris.New("wikipedia: page not found")

// DisambiguationError is returned when a title resolves to a disambiguation
// page. No option is ever picked automatically.
type DisambiguationError struct {
	Title string
}

func (e *DisambiguationError) Error() string {
	return fmt.Sprintf("wikipedia: %q is a disambiguation page", e.Title)
}

// Client defines the MediaWiki operations used for company lookups.
type Client interface {
	// Search returns up to limit article titles matching query, best first.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// Page fetches an article by title, following redirects.
	Page(ctx context.Context, title string) (*Page, error)
}

// Page is a fetched article.
type Page struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	HTML    string `json:"html"`
	Content string `json:"content"` // plain text with == Heading == section markers
}

// Option configures the Wikipedia client.
type Option func(*httpClient)

// WithBaseURL sets the api.php endpoint (for testing or other wikis).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header. MediaWiki asks API clients to
// identify themselves.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithRateLimit caps requests per second. Zero or negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBackoff sets the initial retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.backoff = d
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	backoff   time.Duration
}

// NewClient creates a new MediaWiki API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://en.wikipedia.org/w/api.php",
		userAgent: "profile-resolver/1.0",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(5, 1),
		backoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// get issues a rate-limited GET against the API with exponential backoff on
// transient failures, then decodes the JSON body into out.
func (c *httpClient) get(ctx context.Context, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	reqURL := c.baseURL + "?" + params.Encode()

	const maxAttempts = 3
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "wikipedia: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrap(err, "wikipedia: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		body, status, err := c.do(req)
		switch {
		case err != nil:
			lastErr = err
		case retryableStatusCode(status):
			lastErr = eris.Errorf("wikipedia: status %d", status)
		case status != http.StatusOK:
			return eris.Errorf("wikipedia: unexpected status %d: %s", status, truncate(body, 200))
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return eris.Wrap(err, "wikipedia: unmarshal response")
			}
			return nil
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return eris.Wrap(lastErr, "wikipedia: request failed")
}

func (c *httpClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "wikipedia: read response body")
	}
	return body, resp.StatusCode, nil
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type searchResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit))
	params.Set("srprop", "")

	var resp searchResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, eris.Wrapf(err, "wikipedia: search %q", query)
	}
	if resp.Error != nil {
		return nil, eris.Errorf("wikipedia: search %q: %s: %s", query, resp.Error.Code, resp.Error.Info)
	}

	titles := make([]string, 0, len(resp.Query.Search))
	for _, r := range resp.Query.Search {
		titles = append(titles, r.Title)
	}
	return titles, nil
}

type pageQueryResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		Pages []struct {
			Title     string            `json:"title"`
			Missing   bool              `json:"missing"`
			Invalid   bool              `json:"invalid"`
			FullURL   string            `json:"fullurl"`
			Extract   string            `json:"extract"`
			PageProps map[string]string `json:"pageprops"`
		} `json:"pages"`
	} `json:"query"`
}

type parseResponse struct {
	Error *apiError `json:"error"`
	Parse struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"parse"`
}

func (c *httpClient) Page(ctx context.Context, title string) (*Page, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("titles", title)
	params.Set("redirects", "1")
	params.Set("prop", "info|pageprops|extracts")
	params.Set("inprop", "url")
	params.Set("ppprop", "disambiguation")
	params.Set("explaintext", "1")
	params.Set("exsectionformat", "wiki")

	var meta pageQueryResponse
	if err := c.get(ctx, params, &meta); err != nil {
		return nil, eris.Wrapf(err, "wikipedia: query page %q", title)
	}
	if meta.Error != nil {
		return nil, eris.Errorf("wikipedia: query page %q: %s: %s", title, meta.Error.Code, meta.Error.Info)
	}
	if len(meta.Query.Pages) == 0 {
		return nil, eris.Wrapf(ErrPageNotFound, "title %q", title)
	}
	p := meta.Query.Pages[0]
	if p.Missing || p.Invalid {
		return nil, eris.Wrapf(ErrPageNotFound, "title %q", title)
	}
	if _, ok := p.PageProps["disambiguation"]; ok {
		return nil, &DisambiguationError{Title: p.Title}
	}

	params = url.Values{}
	params.Set("action", "parse")
	params.Set("page", p.Title)
	params.Set("prop", "text")
	params.Set("redirects", "1")
	params.Set("disableeditsection", "1")

	var parsed parseResponse
	if err := c.get(ctx, params, &parsed); err != nil {
		return nil, eris.Wrapf(err, "wikipedia: parse page %q", p.Title)
	}
	if parsed.Error != nil {
		if parsed.Error.Code == "missingtitle" {
			return nil, eris.Wrapf(ErrPageNotFound, "title %q", p.Title)
		}
		return nil, eris.Errorf("wikipedia: parse page %q: %s: %s", p.Title, parsed.Error.Code, parsed.Error.Info)
	}

	pageURL := p.FullURL
	if pageURL == "" {
		pageURL = ArticleURL(p.Title)
	}
	return &Page{
		Title:   p.Title,
		URL:     pageURL,
		HTML:    parsed.Parse.Text,
		Content: p.Extract,
	}, nil
}

// ArticleURL builds the canonical English Wikipedia URL for title.
func ArticleURL(title string) string {
	return "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
