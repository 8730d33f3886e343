package source

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/extract"
	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/pkg/wikipedia"
)

// Wikipedia resolves a company through the MediaWiki API.
type Wikipedia struct {
	client wikipedia.Client
}

// NewWikipedia creates the primary-lookup adapter.
func NewWikipedia(client wikipedia.Client) *Wikipedia {
	return &Wikipedia{client: client}
}

// Name implements Adapter.
func (w *Wikipedia) Name() string { return "wikipedia" }

// Resolve looks up the article named by q.HintURL, or the best search hit
// for q.Name when no hint is given.
func (w *Wikipedia) Resolve(ctx context.Context, q Query) (*model.Candidate, error) {
	if q.HintURL != "" {
		title, err := TitleFromURL(q.HintURL)
		if err != nil {
			return nil, Fail(w.Name(), ReasonParseError, err)
		}
		return w.FetchTitle(ctx, title)
	}

	if strings.TrimSpace(q.Name) == "" {
		return nil, Fail(w.Name(), ReasonNoMatch, eris.New("wikipedia: empty company name"))
	}
	titles, err := w.client.Search(ctx, q.Name, 1)
	if err != nil {
		return nil, Fail(w.Name(), ReasonFetchError, err)
	}
	if len(titles) == 0 {
		return nil, Fail(w.Name(), ReasonNoMatch, eris.Errorf("wikipedia: no search results for %q", q.Name))
	}
	return w.FetchTitle(ctx, titles[0])
}

// FetchTitle builds a Candidate from the article with the given title.
// Redirects are followed; disambiguation pages are reported, never resolved.
func (w *Wikipedia) FetchTitle(ctx context.Context, title string) (*model.Candidate, error) {
	page, err := w.client.Page(ctx, title)
	if err != nil {
		var de *wikipedia.DisambiguationError
		switch {
		case errors.Is(err, wikipedia.ErrPageNotFound):
			return nil, Fail(w.Name(), ReasonNoMatch, err)
		case errors.As(err, &de):
			return nil, Fail(w.Name(), ReasonAmbiguous, err)
		default:
			return nil, Fail(w.Name(), ReasonFetchError, err)
		}
	}

	card, err := extract.IdentityCard(page.HTML)
	if err != nil {
		return nil, Fail(w.Name(), ReasonParseError, err)
	}
	return &model.Candidate{
		SourceURL:    page.URL,
		IdentityCard: card,
		Narrative:    extract.Narrative(page.Content),
	}, nil
}

// TitleFromURL returns the article title encoded in a /wiki/ URL.
func TitleFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "wikipedia: parse url %q", raw)
	}
	_, rest, ok := strings.Cut(u.EscapedPath(), "/wiki/")
	if !ok {
		return "", eris.Errorf("wikipedia: no /wiki/ segment in %q", raw)
	}
	title, err := url.PathUnescape(rest)
	if err != nil {
		return "", eris.Wrapf(err, "wikipedia: unescape title %q", rest)
	}
	title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	if title == "" {
		return "", eris.Errorf("wikipedia: empty title in %q", raw)
	}
	return title, nil
}
