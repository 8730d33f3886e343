// Package browser drives a headless Chromium through go-rod for pages that
// only render their links client-side.
package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Session is a single browser tab.
type Session interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the URL of the loaded document.
	CurrentURL() (string, error)
	// Hrefs returns the href of every element matching selector, in
	// document order. It waits up to the implicit wait for a first match
	// and returns an empty slice when none appears.
	Hrefs(ctx context.Context, selector string) ([]string, error)
	// HTML returns the serialized document.
	HTML() (string, error)
	// Close shuts the browser down. It is safe to call more than once.
	Close() error
}

// Options configures a browser launch.
type Options struct {
	Bin             string
	Headless        bool
	ProfileDir      string
	UserAgent       string
	PageLoadTimeout time.Duration
	ImplicitWait    time.Duration
	DisableImages   bool
	NoSandbox       bool
}

// DefaultOptions returns the launch options used by the search worker.
func DefaultOptions() Options {
	return Options{
		Headless:        true,
		PageLoadTimeout: 12 * time.Second,
		ImplicitWait:    2 * time.Second,
		DisableImages:   true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = d.PageLoadTimeout
	}
	if o.ImplicitWait <= 0 {
		o.ImplicitWait = d.ImplicitWait
	}
	return o
}

// launcher builds the Chromium command line for o.
func (o Options) launcher() *launcher.Launcher {
	l := launcher.New().Headless(o.Headless).Leakless(true)
	if o.Bin != "" {
		l = l.Bin(o.Bin)
	}
	if o.ProfileDir != "" {
		l = l.UserDataDir(o.ProfileDir)
	}
	if o.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), o.UserAgent)
	}
	if o.DisableImages {
		l = l.Set(flags.Flag("blink-settings"), "imagesEnabled=false")
	}
	if o.NoSandbox {
		l = l.NoSandbox(true)
	}
	return l.Set(flags.Flag("disable-gpu"))
}

type rodSession struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	closed   bool
}

// Launch starts a browser and opens a blank tab.
func Launch(ctx context.Context, opts Options) (Session, error) {
	opts = opts.withDefaults()
	l := opts.launcher().Context(ctx)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch")
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, eris.Wrap(err, "browser: connect")
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, eris.Wrap(err, "browser: open page")
	}

	zap.L().Debug("browser: launched",
		zap.Bool("headless", opts.Headless),
		zap.String("profile_dir", opts.ProfileDir),
	)
	return &rodSession{opts: opts, launcher: l, browser: b, page: page}, nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.opts.PageLoadTimeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	if err := p.WaitLoad(); err != nil {
		return eris.Wrapf(err, "browser: wait load %s", url)
	}
	return nil
}

func (s *rodSession) CurrentURL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", eris.Wrap(err, "browser: page info")
	}
	return info.URL, nil
}

func (s *rodSession) Hrefs(ctx context.Context, selector string) ([]string, error) {
	wait := s.page.Context(ctx).Timeout(s.opts.ImplicitWait)
	_, err := wait.Element(selector)
	wait.CancelTimeout()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []string{}, nil
	}

	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: elements %q", selector)
	}
	hrefs := make([]string, 0, len(els))
	for _, el := range els {
		href, err := el.Attribute("href")
		if err != nil {
			return nil, eris.Wrap(err, "browser: read href")
		}
		if href != nil && *href != "" {
			hrefs = append(hrefs, *href)
		}
	}
	return hrefs, nil
}

func (s *rodSession) HTML() (string, error) {
	doc, err := s.page.HTML()
	if err != nil {
		return "", eris.Wrap(err, "browser: read html")
	}
	return doc, nil
}

func (s *rodSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.browser.Close()
	s.launcher.Kill()
	// A caller-supplied profile is kept; rod's temp profile is removed.
	if s.opts.ProfileDir == "" {
		s.launcher.Cleanup()
	}
	if err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}
