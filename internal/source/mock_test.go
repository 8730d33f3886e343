package source

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/profile-resolver/pkg/wikipedia"
)

// --- Wikipedia Mock ---

type mockWikiClient struct {
	mock.Mock
}

func (m *mockWikiClient) Search(ctx context.Context, query string, limit int) ([]string, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockWikiClient) Page(ctx context.Context, title string) (*wikipedia.Page, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wikipedia.Page), args.Error(1)
}

// --- Yahoo Mock ---

type mockYahooClient struct {
	mock.Mock
}

func (m *mockYahooClient) Profile(ctx context.Context, symbol string) (map[string]string, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// --- Browser Fake ---

// fakeSession serves canned hrefs for the results page and maps redirect
// URLs to the page they land on.
type fakeSession struct {
	hrefs     []string
	redirects map[string]string
	navErr    map[string]error
	hrefsErr  error
	html      string

	current string
	visited []string
	closed  bool
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.visited = append(f.visited, url)
	if err := f.navErr[url]; err != nil {
		return err
	}
	if landed, ok := f.redirects[url]; ok {
		f.current = landed
		return nil
	}
	f.current = url
	return nil
}

func (f *fakeSession) CurrentURL() (string, error) { return f.current, nil }

func (f *fakeSession) Hrefs(context.Context, string) ([]string, error) {
	if f.hrefsErr != nil {
		return nil, f.hrefsErr
	}
	return f.hrefs, nil
}

func (f *fakeSession) HTML() (string, error) { return f.html, nil }

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}
