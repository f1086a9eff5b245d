package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Auto probes the HTTP path once and escalates to the browser when the
// fetched markup has no usable report in it. The decision is sticky for the
// life of the source: a host that renders client-side keeps doing so, and
// flip-flopping between acquisition paths would tear down the change watch.
type Auto struct {
	http    *HTTP
	browser *Browser
	logger  *slog.Logger

	mu     sync.Mutex
	active Source // nil until the first probe
}

// NewAuto creates an auto-escalating source from an HTTP probe path and a
// browser fallback.
func NewAuto(h *HTTP, b *Browser, logger *slog.Logger) *Auto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auto{http: h, browser: b, logger: logger}
}

// Name implements Source.
func (a *Auto) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "auto"
	}
	return "auto(" + a.active.Name() + ")"
}

// decide runs the probe when no path has been chosen yet. Callers hold a.mu.
func (a *Auto) decide(ctx context.Context) ([]byte, error) {
	body, err := a.http.Fetch(ctx)
	if err == nil && Sufficient(body) {
		a.active = a.http
		a.logger.Info("source: http path sufficient", "name", a.http.Name())
		return body, nil
	}
	if err != nil {
		a.logger.Warn("source: http probe failed, escalating to browser", "err", err)
	} else {
		a.logger.Info("source: http markup insufficient, escalating to browser")
	}

	body, berr := a.browser.Fetch(ctx)
	if berr != nil {
		return nil, fmt.Errorf("source: escalation failed: %w", berr)
	}
	a.active = a.browser
	return body, nil
}

// Fetch implements Source. The first call picks the acquisition path.
func (a *Auto) Fetch(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return a.decide(ctx)
	}
	return a.active.Fetch(ctx)
}

// Changes implements Source, delegating to the chosen path (probing first
// when Fetch has not run yet).
func (a *Auto) Changes(ctx context.Context) (<-chan struct{}, error) {
	a.mu.Lock()
	if a.active == nil {
		if _, err := a.decide(ctx); err != nil {
			a.mu.Unlock()
			return nil, err
		}
	}
	src := a.active
	a.mu.Unlock()
	return src.Changes(ctx)
}

// Close releases the browser path if the probe ever touched it.
func (a *Auto) Close() error {
	return a.browser.Close()
}
