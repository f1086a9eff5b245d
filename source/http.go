package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxBody caps report downloads; anything past 10MB is not a report.
const maxBody = 10 << 20

// HTTP fetches the report document with plain GETs and detects change by
// polling: conditional requests when the server hands out ETags, a SHA-256
// body compare otherwise.
type HTTP struct {
	url      string
	client   *http.Client
	ua       string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastHash string
	lastETag string
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) { h.ua = ua }
}

// WithInterval sets the change-poll interval. Default: 5s.
func WithInterval(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.interval = d }
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates an HTTP source for url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:      url,
		client:   &http.Client{Timeout: 30 * time.Second},
		ua:       "Mozilla/5.0 (compatible; reportlens/1.0)",
		interval: 5 * time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name implements Source.
func (h *HTTP) Name() string { return "http" }

// Fetch implements Source. The fetched body becomes the change-detection
// baseline.
func (h *HTTP) Fetch(ctx context.Context) ([]byte, error) {
	body, etag, _, err := h.get(ctx, "")
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.lastHash = hashBody(body)
	h.lastETag = etag
	h.mu.Unlock()
	return body, nil
}

// Changes implements Source: a ticker poll that notifies when the document
// hash moves. Poll errors are logged and the poll continues; a flapping
// server must not kill the watch.
func (h *HTTP) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := h.poll(ctx)
				if err != nil {
					h.logger.Warn("source: poll failed", "url", h.url, "err", err)
					continue
				}
				if changed {
					h.logger.Debug("source: document changed", "url", h.url)
					notify(ch)
				}
			}
		}
	}()
	return ch, nil
}

// poll re-fetches and compares against the baseline, updating it on change.
func (h *HTTP) poll(ctx context.Context) (bool, error) {
	h.mu.Lock()
	prevHash, prevETag := h.lastHash, h.lastETag
	h.mu.Unlock()

	body, etag, status, err := h.get(ctx, prevETag)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotModified {
		return false, nil
	}

	hash := hashBody(body)
	if hash == prevHash {
		return false, nil
	}
	h.mu.Lock()
	h.lastHash = hash
	h.lastETag = etag
	h.mu.Unlock()
	// First poll with no baseline just establishes one.
	return prevHash != "", nil
}

func (h *HTTP) get(ctx context.Context, ifNoneMatch string) (body []byte, etag string, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("source: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("source: get %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ifNoneMatch, resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return nil, "", resp.StatusCode, fmt.Errorf("source: get %s: status %d", h.url, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("source: read body: %w", err)
	}
	return body, resp.Header.Get("ETag"), resp.StatusCode, nil
}

func hashBody(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
