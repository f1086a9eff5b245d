// Package engine wires a document source, the derived-column injector, the
// visibility settings, and the pivot aggregation into one scan loop.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/reportlens/htmlgrid"
	"github.com/hazyhaar/reportlens/ingest"
	"github.com/hazyhaar/reportlens/metric"
	"github.com/hazyhaar/reportlens/pivot"
	"github.com/hazyhaar/reportlens/settings"
	"github.com/hazyhaar/reportlens/source"
	"github.com/hazyhaar/reportlens/tabular"
	"github.com/hazyhaar/reportlens/watch"
)

// Stats counts what the scan loop has done so far.
type Stats struct {
	Scans          int64     `json:"scans"`
	LastScanID     string    `json:"last_scan_id,omitempty"`
	LastScan       time.Time `json:"last_scan"`
	TablesSeen     int       `json:"tables_seen"`
	TablesSkipped  int       `json:"tables_skipped"`
	ColumnsAdded   int       `json:"columns_added"`
	TablesIngested int       `json:"tables_ingested"`
}

// Status is the externally visible engine state.
type Status struct {
	Product       string          `json:"product"`
	Version       string          `json:"version,omitempty"`
	Source        string          `json:"source"`
	Stats         Stats           `json:"stats"`
	Derived       map[string]bool `json:"derived"`
	HiddenColumns []string        `json:"hidden_columns"`
	SettingsWatch *watch.Stats    `json:"settings_watch,omitempty"`
}

// Engine owns the latest augmented document and the aggregation state
// behind it. All methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	version string
	logger  *slog.Logger
	store   *settings.Store
	src     source.Source

	sanitizer *bluemonday.Policy
	md        *converter.Converter

	// passMu serializes scans so a manual refresh cannot interleave with a
	// watcher-triggered one.
	passMu sync.Mutex

	mu       sync.RWMutex
	vis      settings.Config
	doc      []byte
	snaps    []tabular.Snapshot
	ingested []tabular.Snapshot
	stats    Stats
	watcher  *watch.Watcher
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore attaches the settings store. Without one, visibility changes
// live only in memory.
func WithStore(st *settings.Store) Option {
	return func(e *Engine) { e.store = st }
}

// WithVersion sets the build version reported by Status.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// New creates an Engine over src. Call ReloadSettings to pick up stored
// visibility state, then Run or ScanOnce.
func New(cfg Config, src source.Source, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    slog.Default(),
		src:       src,
		vis:       settings.Defaults(),
		sanitizer: reportPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// reportPolicy keeps table structure and inline appearance while stripping
// scripts, event handlers, and embedded style sheets from fetched documents.
func reportPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowTables()
	p.AllowAttrs("class", "style", "title").Globally()
	return p
}

// ScanOnce runs one full augmentation pass: fetch, sanitize, parse, inject
// and apply visibility per table, render, publish. Tables the injector
// skips still feed aggregation when they carry an agent column.
func (e *Engine) ScanOnce(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	scanID := uuid.NewString()
	start := time.Now()

	raw, err := e.src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("engine: fetch: %w", err)
	}
	clean := e.sanitizer.SanitizeBytes(raw)

	doc, err := html.Parse(bytes.NewReader(clean))
	if err != nil {
		return fmt.Errorf("engine: parse: %w", err)
	}

	e.mu.RLock()
	vis := e.vis.Clone()
	e.mu.RUnlock()

	var (
		snaps   []tabular.Snapshot
		added   int
		skipped int
	)
	tables := htmlgrid.Tables(doc)
	for i, t := range tables {
		// Snapshot before injection so aggregation reads the raw grid.
		snaps = append(snaps, t.Snapshot())
		rep := t.Inject(vis)
		if rep.Skipped != "" {
			skipped++
			e.logger.Debug("engine: table skipped",
				"scan_id", scanID, "table", i, "reason", rep.Skipped)
		} else {
			added += len(rep.Injected)
		}
		t.ApplyVisibility(vis)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fmt.Errorf("engine: render: %w", err)
	}

	e.mu.Lock()
	e.doc = buf.Bytes()
	e.snaps = snaps
	e.stats.Scans++
	e.stats.LastScanID = scanID
	e.stats.LastScan = time.Now()
	e.stats.TablesSeen = len(tables)
	e.stats.TablesSkipped = skipped
	e.stats.ColumnsAdded = added
	e.mu.Unlock()

	e.logger.Info("engine: scan complete",
		"scan_id", scanID,
		"tables", len(tables),
		"skipped", skipped,
		"columns_added", added,
		"bytes", buf.Len(),
		"duration", time.Since(start))
	return nil
}

// Run performs an initial scan, then rescans after each debounced source
// change notification. With a settings store attached it also starts the
// cross-process settings watcher. Run returns when ctx ends, closing the
// source if it holds resources (the browser path does).
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if c, ok := e.src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				e.logger.Warn("engine: close source", "err", err)
			}
		}
	}()

	if err := e.ScanOnce(ctx); err != nil {
		e.logger.Warn("engine: initial scan failed", "err", err)
	}

	ch, err := e.src.Changes(ctx)
	if err != nil {
		return fmt.Errorf("engine: source changes: %w", err)
	}

	if e.store != nil {
		w := watch.New(e.store.DB, watch.Options{Logger: e.logger})
		e.mu.Lock()
		e.watcher = w
		e.mu.Unlock()
		go w.Run(ctx, func() error { return e.ReloadSettings(ctx) })
	}

	var debounced <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			// Arm-on-latest: a burst keeps replacing the timer channel, so
			// only the final notification triggers a scan.
			debounced = time.After(e.cfg.Debounce)
		case <-debounced:
			debounced = nil
			if err := e.ScanOnce(ctx); err != nil {
				e.logger.Warn("engine: scan failed", "err", err)
			}
		}
	}
}

// ReloadSettings re-reads the stored config and re-applies visibility to
// the current document. Load failure falls back to defaults so the service
// keeps serving.
func (e *Engine) ReloadSettings(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	cfg, err := e.store.Load(ctx)
	if err != nil {
		e.mu.Lock()
		e.vis = settings.Defaults()
		e.mu.Unlock()
		if rerr := e.reapplyVisibility(); rerr != nil {
			e.logger.Warn("engine: reapply after fallback", "err", rerr)
		}
		return fmt.Errorf("engine: reload settings: %w", err)
	}
	e.mu.Lock()
	e.vis = cfg
	e.mu.Unlock()
	return e.reapplyVisibility()
}

// reapplyVisibility re-renders the current document under the latest
// config. Only display state changes here; a descriptor enabled after the
// last scan materializes on the next pass.
func (e *Engine) reapplyVisibility() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.doc) == 0 {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(e.doc))
	if err != nil {
		return fmt.Errorf("engine: reparse: %w", err)
	}
	for _, t := range htmlgrid.Tables(doc) {
		t.ApplyVisibility(e.vis)
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fmt.Errorf("engine: render: %w", err)
	}
	e.doc = buf.Bytes()
	return nil
}

// Toggle flips a derived descriptor on or off. The new state persists
// (failures logged and swallowed), the current document updates its display
// state, and the next scan injects or omits the column accordingly.
func (e *Engine) Toggle(ctx context.Context, key string, enabled bool) error {
	if _, ok := metric.ByKey(key); !ok {
		return fmt.Errorf("engine: unknown descriptor %q", key)
	}
	e.mu.Lock()
	if e.vis.DerivedEnabled == nil {
		e.vis.DerivedEnabled = make(map[string]bool)
	}
	e.vis.DerivedEnabled[key] = enabled
	vis := e.vis.Clone()
	e.mu.Unlock()

	e.persist(ctx, vis)
	if err := e.reapplyVisibility(); err != nil {
		e.logger.Warn("engine: reapply after toggle", "err", err)
	}
	e.logger.Info("engine: descriptor toggled", "key", key, "enabled", enabled)
	return nil
}

// SetColumnHidden hides or shows an original report column by its header
// text. Unknown headers persist too; they apply when a matching column
// shows up in a later report.
func (e *Engine) SetColumnHidden(ctx context.Context, header string, hidden bool) error {
	if strings.TrimSpace(header) == "" {
		return fmt.Errorf("engine: empty header")
	}
	e.mu.Lock()
	if e.vis.HiddenOriginal == nil {
		e.vis.HiddenOriginal = make(map[string]bool)
	}
	if hidden {
		e.vis.HiddenOriginal[header] = true
	} else {
		delete(e.vis.HiddenOriginal, header)
	}
	vis := e.vis.Clone()
	e.mu.Unlock()

	e.persist(ctx, vis)
	if err := e.reapplyVisibility(); err != nil {
		e.logger.Warn("engine: reapply after column change", "err", err)
	}
	e.logger.Info("engine: column visibility changed", "header", header, "hidden", hidden)
	return nil
}

// persist saves the visibility config; failures are logged and swallowed so
// the in-memory config keeps serving the session.
func (e *Engine) persist(ctx context.Context, cfg settings.Config) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, cfg); err != nil {
		e.logger.Warn("engine: persist settings", "err", err)
	}
}

// View returns the latest augmented document.
func (e *Engine) View() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]byte, len(e.doc))
	copy(out, e.doc)
	return out
}

// Settings returns a copy of the active visibility config.
func (e *Engine) Settings() settings.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vis.Clone()
}

// Aggregate computes the agent/list pivot over the latest scan plus any
// ingested PDF tables.
func (e *Engine) Aggregate() *pivot.Aggregation {
	e.mu.RLock()
	snaps := make([]tabular.Snapshot, 0, len(e.snaps)+len(e.ingested))
	snaps = append(snaps, e.snaps...)
	snaps = append(snaps, e.ingested...)
	e.mu.RUnlock()
	return pivot.Extract(snaps)
}

func (e *Engine) pivotOptions() pivot.Options {
	return pivot.Options{ExcludeList: e.cfg.ExcludeList}
}

// AggregateHTML renders the pivot as a standalone HTML table.
func (e *Engine) AggregateHTML() string {
	grid := pivot.BuildGrid(e.Aggregate(), e.pivotOptions())
	return grid.RenderHTML(e.cfg.Product + " pivot")
}

// AggregateMarkdown converts the HTML pivot to a markdown table. If the
// conversion fails the HTML comes back as-is rather than nothing.
func (e *Engine) AggregateMarkdown() string {
	h := e.AggregateHTML()
	md, err := e.md.ConvertString(h)
	if err != nil || strings.TrimSpace(md) == "" {
		e.logger.Warn("engine: markdown conversion failed", "err", err)
		return h
	}
	return strings.TrimSpace(md)
}

// ExportCSV renders the pivot as CSV and returns it with the download
// filename.
func (e *Engine) ExportCSV() ([]byte, string, error) {
	var buf bytes.Buffer
	if err := pivot.WriteCSV(&buf, e.Aggregate(), e.pivotOptions()); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), pivot.Filename(e.cfg.Product, time.Now()), nil
}

// IngestPDF folds a PDF export into the aggregation state, replacing any
// previously ingested set, and returns the combined pivot.
func (e *Engine) IngestPDF(data []byte) (*pivot.Aggregation, error) {
	snaps, err := ingest.FromPDF(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.ingested = snaps
	e.stats.TablesIngested = len(snaps)
	e.mu.Unlock()
	e.logger.Info("engine: pdf ingested", "tables", len(snaps))
	return e.Aggregate(), nil
}

// Status reports engine state for the status endpoint and the MCP tool.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	derived := make(map[string]bool, len(metric.Specs))
	for _, s := range metric.Specs {
		derived[s.Key] = e.vis.DerivedOn(s.Key)
	}
	var hidden []string
	for h, on := range e.vis.HiddenOriginal {
		if on {
			hidden = append(hidden, h)
		}
	}
	sort.Strings(hidden)

	st := Status{
		Product:       e.cfg.Product,
		Version:       e.version,
		Source:        e.src.Name(),
		Stats:         e.stats,
		Derived:       derived,
		HiddenColumns: hidden,
	}
	if e.watcher != nil {
		ws := e.watcher.Stats()
		st.SettingsWatch = &ws
	}
	return st
}
