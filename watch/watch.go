// Package watch reloads visibility settings when another process writes the
// settings database.
//
// A CLI or a second service instance sharing the same SQLite file can flip
// descriptors or hide columns; the running engine picks the change up
// without a restart. Detection polls PRAGMA data_version, which moves when a
// different connection commits to the database file.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// VersionFunc reads a change token from the database. Two calls returning
// different values mean the settings were written in between.
type VersionFunc func(ctx context.Context, db *sql.DB) (int64, error)

// DataVersion reads PRAGMA data_version. It only moves on commits from
// other connections; this process's own saves already updated the in-memory
// config, so they should not (and with a single-connection pool do not)
// trigger a reload.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// Options tunes the watcher.
type Options struct {
	// Interval is the poll frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// reload fires; further changes reset it. 0 fires immediately.
	Debounce time.Duration
	// Version overrides the DataVersion token reader.
	Version VersionFunc
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Version == nil {
		o.Version = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time counters, surfaced through the engine status.
type Stats struct {
	Checks     int64     `json:"checks"`
	Changes    int64     `json:"changes"`
	Errors     int64     `json:"errors"`
	Reloads    int64     `json:"reloads"`
	LastReload time.Time `json:"last_reload"`
}

// Watcher polls the settings database and reloads on change. Counters are
// atomic, so Stats may be read while the loop runs.
type Watcher struct {
	db   *sql.DB
	opts Options

	// version is the last token a successful reload caught up to.
	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
	lastNs  atomic.Int64
}

// New creates a Watcher. Call Run to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
	if ns := w.lastNs.Load(); ns > 0 {
		s.LastReload = time.Unix(0, ns)
	}
	return s
}

// Run blocks until ctx ends, polling at Interval. When the token moves and
// the debounce window passes quietly, reload runs. A reload error leaves
// the recorded token behind, so the next poll retries.
func (w *Watcher) Run(ctx context.Context, reload func() error) {
	log := w.opts.Logger

	if v, err := w.opts.Version(ctx, w.db); err != nil {
		log.Warn("watch: initial token read failed", "err", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var timer *time.Timer
	var timerCh <-chan time.Time
	pending := int64(-1)

	log.Info("watch: settings watch started",
		"interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info("watch: settings watch stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Version(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: token read failed", "err", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(log, reload, pending)
				pending = -1
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			timerCh = timer.C
			log.Debug("watch: settings changed, debouncing", "token", cur)

		case <-timerCh:
			timerCh = nil
			if pending >= 0 {
				w.fire(log, reload, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, reload func() error, token int64) {
	if err := reload(); err != nil {
		w.errors.Add(1)
		log.Error("watch: settings reload failed", "err", err)
		return
	}
	w.reloads.Add(1)
	w.lastNs.Store(time.Now().UnixNano())
	w.version.Store(token)
	log.Info("watch: settings reloaded", "token", token)
}
