// Package source acquires the report document reportlens works on and
// watches it for change. Three acquisition paths exist: a local file, a
// plain HTTP GET, and a headless browser for pages that only render their
// tables client-side, plus an auto mode that probes HTTP first and
// escalates to the browser when the fetched markup has no usable tables.
package source

import "context"

// Source is one way of obtaining the report document.
type Source interface {
	// Name identifies the source kind in logs and status payloads.
	Name() string
	// Fetch returns the current raw document.
	Fetch(ctx context.Context) ([]byte, error)
	// Changes returns a channel that receives a value whenever the
	// document may have changed. Notifications are advisory: the engine
	// re-fetches and judges for itself. The channel closes when ctx ends.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// notify performs a non-blocking send. Sources coalesce bursts into one
// pending notification; the engine debounces on top of that.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
