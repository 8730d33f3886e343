// Package yahoo provides a client for the Yahoo Finance quote-summary API.
package yahoo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the financial-profile lookup.
type Client interface {
	// Profile returns the flattened assetProfile module for symbol. An
	// unknown symbol yields an empty map and no error.
	Profile(ctx context.Context, symbol string) (map[string]string, error)
}

// Option configures the Yahoo client.
type Option func(*httpClient)

// WithBaseURL sets the API host (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithCookieURL sets the page fetched to obtain the session cookie.
func WithCookieURL(u string) Option {
	return func(c *httpClient) {
		c.cookieURL = u
	}
}

// WithUserAgent sets the User-Agent header. Yahoo rejects blank agents.
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
	cookieURL string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	backoff   time.Duration

	mu    sync.Mutex
	crumb string
}

// NewClient creates a new Yahoo Finance client. The session cookie and
// crumb are fetched lazily on the first lookup.
func NewClient(opts ...Option) Client {
	jar, _ := cookiejar.New(nil)
	c := &httpClient{
		baseURL:   "https://query2.finance.yahoo.com",
		cookieURL: "https://fc.yahoo.com",
		userAgent: "Mozilla/5.0",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Jar:     jar,
		},
		limiter: rate.NewLimiter(2, 1),
		backoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile map[string]json.RawMessage `json:"assetProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

func (c *httpClient) Profile(ctx context.Context, symbol string) (map[string]string, error) {
	crumb, err := c.session(ctx, false)
	if err != nil {
		return nil, err
	}

	body, status, err := c.fetchProfile(ctx, symbol, crumb)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// Crumb expired; refresh once.
		if crumb, err = c.session(ctx, true); err != nil {
			return nil, err
		}
		if body, status, err = c.fetchProfile(ctx, symbol, crumb); err != nil {
			return nil, err
		}
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return map[string]string{}, nil
	default:
		return nil, eris.Errorf("yahoo: quote summary %s: unexpected status %d", symbol, status)
	}

	var resp quoteSummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "yahoo: unmarshal quote summary %s", symbol)
	}
	if resp.QuoteSummary.Error != nil {
		return map[string]string{}, nil
	}

	profile := make(map[string]string)
	for _, r := range resp.QuoteSummary.Result {
		for k, raw := range r.AssetProfile {
			if v, ok := scalar(raw); ok {
				profile[k] = v
			}
		}
	}
	return profile, nil
}

func (c *httpClient) fetchProfile(ctx context.Context, symbol, crumb string) ([]byte, int, error) {
	q := url.Values{}
	q.Set("modules", "assetProfile")
	q.Set("crumb", crumb)
	reqURL := c.baseURL + "/v10/finance/quoteSummary/" + url.PathEscape(symbol) + "?" + q.Encode()
	return c.get(ctx, reqURL)
}

// session returns the crumb bound to the jar's cookie, performing the
// handshake when none is cached or refresh is set.
func (c *httpClient) session(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" && !refresh {
		return c.crumb, nil
	}

	// The cookie host answers 404 but still sets the session cookie.
	if _, _, err := c.get(ctx, c.cookieURL); err != nil {
		return "", eris.Wrap(err, "yahoo: fetch session cookie")
	}

	body, status, err := c.get(ctx, c.baseURL+"/v1/test/getcrumb")
	if err != nil {
		return "", eris.Wrap(err, "yahoo: fetch crumb")
	}
	crumb := strings.TrimSpace(string(body))
	if status != http.StatusOK || crumb == "" {
		return "", eris.Errorf("yahoo: fetch crumb: status %d", status)
	}
	c.crumb = crumb
	return crumb, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// get performs a rate-limited GET, retrying transport failures and
// transient statuses with exponential backoff.
func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, eris.Wrap(err, "yahoo: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, 0, eris.Wrap(err, "yahoo: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, resp.StatusCode, eris.Wrap(readErr, "yahoo: read response body")
			}
			if !retryableStatusCode(resp.StatusCode) {
				return body, resp.StatusCode, nil
			}
			lastErr = eris.Errorf("yahoo: status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, 0, eris.Wrap(lastErr, "yahoo: request failed")
}

// scalar renders a JSON string, number or bool as text. Objects, arrays and
// null are skipped.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		b, err := strconv.ParseBool(string(raw))
		return strconv.FormatBool(b), err == nil
	case '{', '[', 'n':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}
