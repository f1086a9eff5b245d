package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Browser renders the report page in headless Chrome and reads the live DOM.
// This is the path for report hosts that build their tables client-side;
// plain GETs against those return an empty shell.
//
// Change polling re-evaluates the current DOM without reloading, so it sees
// the in-page re-renders these report pages do on their own refresh timers.
// Server-side-only changes need the http source instead.
type Browser struct {
	url      string
	remote   string // ws:// control URL of an external Chrome; empty launches one
	headless bool
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	lastHash string
}

// BrowserOption configures a Browser source.
type BrowserOption func(*Browser)

// WithRemote connects to an already-running Chrome instead of launching one.
func WithRemote(wsURL string) BrowserOption {
	return func(b *Browser) { b.remote = wsURL }
}

// WithHeadless toggles headless launch. Default: true.
func WithHeadless(v bool) BrowserOption {
	return func(b *Browser) { b.headless = v }
}

// WithBrowserInterval sets the DOM poll interval. Default: 5s.
func WithBrowserInterval(d time.Duration) BrowserOption {
	return func(b *Browser) { b.interval = d }
}

// WithBrowserLogger sets a custom logger.
func WithBrowserLogger(l *slog.Logger) BrowserOption {
	return func(b *Browser) { b.logger = l }
}

// NewBrowser creates a browser source for url. Chrome is not touched until
// the first Fetch.
func NewBrowser(url string, opts ...BrowserOption) *Browser {
	b := &Browser{
		url:      url,
		headless: true,
		interval: 5 * time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements Source.
func (b *Browser) Name() string { return "browser" }

// connect launches or attaches to Chrome and opens the report page.
// Callers hold b.mu.
func (b *Browser) connect(ctx context.Context) error {
	if b.page != nil {
		return nil
	}

	wsURL := b.remote
	if wsURL == "" {
		l := launcher.New().
			Headless(b.headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("source: launch chrome: %w", err)
		}
		wsURL = u
		b.logger.Info("source: launched chrome", "url", wsURL)
	} else {
		b.logger.Info("source: connecting to remote chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return fmt.Errorf("source: connect chrome: %w", err)
	}
	if err := br.IgnoreCertErrors(true); err != nil {
		b.logger.Warn("source: ignore cert errors failed", "err", err)
	}

	page, err := stealth.Page(br)
	if err != nil {
		br.Close()
		return fmt.Errorf("source: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(b.url); err != nil {
		page.Close()
		br.Close()
		return fmt.Errorf("source: navigate %s: %w", b.url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Warn("source: wait load timeout", "url", b.url, "err", err)
	}

	b.browser = br
	b.page = page
	return nil
}

// Fetch implements Source: navigate (first call connects), wait for load,
// serialize the DOM.
func (b *Browser) Fetch(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connect(ctx); err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.page.Context(navCtx).Navigate(b.url); err != nil {
		return nil, fmt.Errorf("source: navigate %s: %w", b.url, err)
	}
	if err := b.page.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Warn("source: wait load timeout", "url", b.url, "err", err)
	}

	body, err := b.domLocked(ctx)
	if err != nil {
		return nil, err
	}
	b.lastHash = hashBody(body)
	return body, nil
}

// domLocked serializes the current DOM. Callers hold b.mu.
func (b *Browser) domLocked(ctx context.Context) ([]byte, error) {
	res, err := b.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("source: read DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Changes implements Source: polls the live DOM and notifies when its hash
// moves.
func (b *Browser) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.mu.Lock()
				if b.page == nil {
					b.mu.Unlock()
					continue
				}
				body, err := b.domLocked(ctx)
				if err != nil {
					b.mu.Unlock()
					b.logger.Warn("source: dom poll failed", "url", b.url, "err", err)
					continue
				}
				hash := hashBody(body)
				changed := b.lastHash != "" && hash != b.lastHash
				b.lastHash = hash
				b.mu.Unlock()
				if changed {
					b.logger.Debug("source: dom changed", "url", b.url)
					notify(ch)
				}
			}
		}
	}()
	return ch, nil
}

// Close shuts down the page and, when this source launched it, the browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		err := b.browser.Close()
		b.browser = nil
		if err != nil {
			return fmt.Errorf("source: close browser: %w", err)
		}
	}
	return nil
}
