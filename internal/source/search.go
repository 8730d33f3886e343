package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/pkg/browser"
)

const (
	// DefaultEngineURL is the search results endpoint.
	DefaultEngineURL = "https://www.bing.com/search"

	resultSelector = "li.b_algo h2 a"
	articleHost    = "en.wikipedia.org"
	articlePrefix  = "/wiki/"
)

// Search finds the article through a browser-rendered search engine, then
// builds the candidate with the primary adapter.
type Search struct {
	session   browser.Session
	articles  *Wikipedia
	engineURL string
}

// NewSearch creates the search adapter over an open browser session.
func NewSearch(session browser.Session, articles *Wikipedia, engineURL string) *Search {
	if engineURL == "" {
		engineURL = DefaultEngineURL
	}
	return &Search{session: session, articles: articles, engineURL: engineURL}
}

// Name implements Adapter.
func (s *Search) Name() string { return "search" }

// Resolve implements Adapter.
func (s *Search) Resolve(ctx context.Context, q Query) (*model.Candidate, error) {
	resultsURL, err := s.resultsURL(SearchQuery(q))
	if err != nil {
		return nil, Fail(s.Name(), ReasonParseError, err)
	}

	if err := s.session.Navigate(ctx, resultsURL); err != nil {
		return nil, Fail(s.Name(), ReasonFetchError, err)
	}
	hrefs, err := s.session.Hrefs(ctx, resultSelector)
	if err != nil {
		return nil, Fail(s.Name(), ReasonFetchError, err)
	}

	article, err := s.firstArticle(ctx, resultsURL, hrefs)
	if err != nil {
		return nil, Fail(s.Name(), ReasonFetchError, err)
	}
	if article == "" {
		if len(hrefs) == 0 {
			if kind := s.blocked(); kind != BlockNone {
				return nil, Fail(s.Name(), ReasonFetchError, eris.Errorf("search: results page blocked (%s)", kind))
			}
		}
		return nil, Fail(s.Name(), ReasonNoMatch, eris.Errorf("search: no article link among %d results", len(hrefs)))
	}

	title, err := TitleFromURL(article)
	if err != nil {
		return nil, Fail(s.Name(), ReasonParseError, err)
	}
	zap.L().Debug("search: article found",
		zap.String("symbol", q.Symbol),
		zap.String("url", article),
	)
	return s.articles.FetchTitle(ctx, title)
}

// blocked classifies the current page when it yielded no results at all.
func (s *Search) blocked() BlockType {
	doc, err := s.session.HTML()
	if err != nil {
		zap.L().Debug("search: read results page", zap.Error(err))
		return BlockNone
	}
	return DetectBlock(doc)
}

// firstArticle walks hrefs in page order. Engine redirect wrappers are
// followed and the results page is restored afterwards. A navigation
// failure is returned only when no article was found.
func (s *Search) firstArticle(ctx context.Context, resultsURL string, hrefs []string) (string, error) {
	var navErr error
	for _, href := range hrefs {
		if IsArticleURL(href) {
			return CleanURL(href), nil
		}
		if !s.isRedirect(href) {
			continue
		}

		landed, err := s.follow(ctx, href)
		if err != nil {
			navErr = err
			zap.L().Debug("search: follow redirect failed", zap.String("href", href), zap.Error(err))
		}
		if err := s.session.Navigate(ctx, resultsURL); err != nil {
			return "", eris.Wrap(err, "search: restore results page")
		}
		if landed != "" && IsArticleURL(landed) {
			return CleanURL(landed), nil
		}
	}
	return "", navErr
}

func (s *Search) follow(ctx context.Context, href string) (string, error) {
	if err := s.session.Navigate(ctx, href); err != nil {
		return "", err
	}
	return s.session.CurrentURL()
}

func (s *Search) resultsURL(query string) (string, error) {
	u, err := url.Parse(s.engineURL)
	if err != nil {
		return "", eris.Wrapf(err, "search: parse engine url %q", s.engineURL)
	}
	v := u.Query()
	v.Set("q", query)
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// isRedirect reports whether href points back at the search engine, as
// click-tracking wrappers like bing.com/ck/a do.
func (s *Search) isRedirect(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	engine, err := url.Parse(s.engineURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == strings.ToLower(engine.Hostname()) ||
		host == "bing.com" || strings.HasSuffix(host, ".bing.com")
}

// SearchQuery builds the engine query for q.
func SearchQuery(q Query) string {
	if strings.TrimSpace(q.Symbol) == "" {
		return q.Name + " site:en.wikipedia.org"
	}
	return q.Symbol + " " + q.Name + " Company Wikipedia"
}

// IsArticleURL reports whether raw is an English Wikipedia article link.
func IsArticleURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), articleHost) &&
		strings.HasPrefix(u.Path, articlePrefix) &&
		len(u.Path) > len(articlePrefix)
}

// CleanURL drops the fragment and query string.
func CleanURL(raw string) string {
	if i := strings.IndexAny(raw, "#?"); i >= 0 {
		return raw[:i]
	}
	return raw
}
