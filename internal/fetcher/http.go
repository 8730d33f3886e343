package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/resilience"
)

// HTTPOptions configures remote downloads.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Client     *http.Client // optional; overrides Timeout
}

func (o HTTPOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// IsRemote reports whether src is an http(s) URL.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Open returns a reader for a local path or an http(s) URL. Remote bodies are
// buffered fully so transient failures can be retried.
func Open(ctx context.Context, src string, opts HTTPOptions) (io.ReadCloser, error) {
	if !IsRemote(src) {
		f, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", src)
		}
		return f, nil
	}

	body, err := Download(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Download GETs url, retrying transport errors and transient statuses.
func Download(ctx context.Context, url string, opts HTTPOptions) ([]byte, error) {
	attempts := opts.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	policy := resilience.BackoffPolicy(attempts)
	policy.OnRetry = resilience.RetryLogger("fetcher", "download")
	hc := opts.client()

	return resilience.DoVal(ctx, policy, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		if opts.UserAgent != "" {
			req.Header.Set("User-Agent", opts.UserAgent)
		}

		resp, err := hc.Do(req)
		if err != nil {
			return nil, resilience.Transient(eris.Wrapf(err, "fetcher: get %s", url), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("fetcher: get %s: status %d", url, resp.StatusCode)
			if resilience.RetryableStatus(resp.StatusCode) {
				return nil, resilience.Transient(err, resp.StatusCode)
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.Transient(eris.Wrap(err, "fetcher: read body"), 0)
		}
		return body, nil
	})
}
