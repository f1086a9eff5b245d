package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/reportlens/dbopen"
	"github.com/hazyhaar/reportlens/settings"
)

const campaignReport = `<html><body>
<table>
<tr>
	<th>User</th><th>List</th><th>Dialed</th><th>Contacts</th>
	<th>Status 'APPT - Appointment Scheduled'</th><th>LXFER</th><th>All Success</th>
</tr>
<tr>
	<td>Alice</td><td>Sales</td><td>100</td><td>40</td>
	<td>10</td><td>5</td><td>30</td>
</tr>
</table>
</body></html>`

// fakeSource serves an in-memory document and a hand-cranked change feed.
type fakeSource struct {
	mu      sync.Mutex
	body    []byte
	fetches atomic.Int64
	ch      chan struct{}
}

func newFakeSource(body string) *fakeSource {
	return &fakeSource{body: []byte(body), ch: make(chan struct{}, 8)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context) ([]byte, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.body))
	copy(out, f.body)
	return out, nil
}

func (f *fakeSource) Changes(ctx context.Context) (<-chan struct{}, error) {
	return f.ch, nil
}

func (f *fakeSource) set(body string) {
	f.mu.Lock()
	f.body = []byte(body)
	f.mu.Unlock()
}

func (f *fakeSource) notify() { f.ch <- struct{}{} }

func testEngine(t *testing.T, body string, opts ...Option) (*Engine, *fakeSource) {
	t.Helper()
	src := newFakeSource(body)
	cfg := Config{}
	cfg.applyDefaults()
	cfg.Debounce = 100 * time.Millisecond
	return New(cfg, src, opts...), src
}

func testStore(t *testing.T) *settings.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(settings.Schema))
	return settings.New(db)
}

func TestScanOnce_AugmentsDocument(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	if err := e.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	view := string(e.View())
	for _, want := range []string{"APPT%(C)", "APPT%(D)", "LXFER%(C)", "SUCCESS%(D)", "25.00%", "30.00%"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "display:none") {
		t.Error("nothing should be hidden under default settings")
	}

	st := e.Status()
	if st.Stats.Scans != 1 || st.Stats.TablesSeen != 1 || st.Stats.ColumnsAdded != 6 {
		t.Errorf("stats = %+v", st.Stats)
	}
	if st.Stats.LastScanID == "" || st.Stats.LastScan.IsZero() {
		t.Errorf("scan pass not recorded: %+v", st.Stats)
	}
}

func TestScanOnce_SanitizesFetchedDocument(t *testing.T) {
	// WHAT: scripts and event handlers in the fetched page are stripped
	// before the document is served back.
	// WHY: browser-fetched pages carry live JS; /api/view must not.
	body := strings.Replace(campaignReport, "<table>",
		`<script>alert(1)</script><table onclick="steal()">`, 1)
	e, _ := testEngine(t, body)
	if err := e.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	view := string(e.View())
	if strings.Contains(view, "<script") || strings.Contains(view, "onclick") {
		t.Error("script content survived sanitization")
	}
	if !strings.Contains(view, "APPT%(C)") {
		t.Error("table structure lost during sanitization")
	}
}

func TestScanOnce_RespectsDisabledDescriptor(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	cfg := settings.Defaults()
	cfg.DerivedEnabled["appt_dialed"] = false
	if err := st.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	e, _ := testEngine(t, campaignReport, WithStore(st))
	if err := e.ReloadSettings(ctx); err != nil {
		t.Fatalf("ReloadSettings: %v", err)
	}
	if err := e.ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	view := string(e.View())
	if strings.Contains(view, "APPT%(D)") {
		t.Error("disabled descriptor was injected")
	}
	if !strings.Contains(view, "APPT%(C)") {
		t.Error("enabled descriptor missing")
	}
	if e.Status().Stats.ColumnsAdded != 5 {
		t.Errorf("columns added = %d, want 5", e.Status().Stats.ColumnsAdded)
	}
}

func TestToggle_PersistsAndUpdatesView(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	e, _ := testEngine(t, campaignReport, WithStore(st))
	if err := e.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e.Toggle(ctx, "appt_dialed", false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	// The column stays in the document but is no longer displayed.
	view := string(e.View())
	if !strings.Contains(view, "APPT%(D)") {
		t.Error("toggle must not remove the column from the current document")
	}
	if !strings.Contains(view, "display:none") {
		t.Error("disabled descriptor still displayed")
	}

	stored, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DerivedOn("appt_dialed") {
		t.Error("toggle not persisted")
	}
	if e.Settings().DerivedOn("appt_dialed") {
		t.Error("in-memory config not updated")
	}
}

func TestToggle_UnknownKey(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	if err := e.Toggle(context.Background(), "made_up", false); err == nil {
		t.Error("expected error for unknown descriptor key")
	}
}

func TestSetColumnHidden_RoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	e, _ := testEngine(t, campaignReport, WithStore(st))
	if err := e.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e.SetColumnHidden(ctx, "Contacts", true); err != nil {
		t.Fatalf("SetColumnHidden: %v", err)
	}
	if !strings.Contains(string(e.View()), "display:none") {
		t.Error("hidden column still displayed")
	}
	stored, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Hidden("Contacts") {
		t.Error("hide not persisted")
	}

	if err := e.SetColumnHidden(ctx, "Contacts", false); err != nil {
		t.Fatalf("SetColumnHidden: %v", err)
	}
	if strings.Contains(string(e.View()), "display:none") {
		t.Error("column still hidden after unhide")
	}
	stored, err = st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Hidden("Contacts") {
		t.Error("unhide not persisted")
	}
}

// WHAT: when the settings database cannot be read, the engine serves
// defaults instead of dying.
// WHY: a corrupt or locked settings file must not take the report down.
func TestReloadSettings_FallbackOnFailure(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	e, _ := testEngine(t, campaignReport, WithStore(st))

	cfg := settings.Defaults()
	cfg.DerivedEnabled["lxfer_dialed"] = false
	if err := st.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadSettings(ctx); err != nil {
		t.Fatal(err)
	}
	if e.Settings().DerivedOn("lxfer_dialed") {
		t.Fatal("stored toggle not loaded")
	}

	st.DB.Close()
	if err := e.ReloadSettings(ctx); err == nil {
		t.Error("expected error from closed settings database")
	}
	if !e.Settings().DerivedOn("lxfer_dialed") {
		t.Error("config did not fall back to defaults")
	}
}

func TestRun_DebouncedRescan(t *testing.T) {
	// WHAT: a burst of change notifications produces one rescan, and the
	// rescan picks up the new document body.
	// WHY: sources can fire several notifications for a single logical
	// change; each scan does full fetch+parse work.
	e, src := testEngine(t, campaignReport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	// Let the initial scan land.
	deadline := time.Now().Add(5 * time.Second)
	for e.Status().Stats.Scans == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial scan never happened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	src.set(strings.Replace(campaignReport, "<td>100</td>", "<td>200</td>", 1))
	for i := 0; i < 3; i++ {
		src.notify()
		time.Sleep(10 * time.Millisecond)
	}

	deadline = time.Now().Add(5 * time.Second)
	for e.Status().Stats.Scans < 2 {
		if time.Now().After(deadline) {
			t.Fatal("rescan never happened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Debounce window (100ms) long past the burst: still exactly one rescan.
	time.Sleep(400 * time.Millisecond)

	if got := src.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2 (initial + one debounced)", got)
	}
	if !strings.Contains(string(e.View()), "<td>200</td>") {
		t.Error("rescan did not pick up the new document")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAggregate_FromScan(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	if err := e.ScanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	agg := e.Aggregate()
	if agg.TablesUsed != 1 {
		t.Fatalf("tables used = %d", agg.TablesUsed)
	}
	alice := agg.Agents["Alice"]
	if alice == nil || alice.Totals.Dialed != 100 || alice.Totals.Appt != 10 {
		t.Errorf("alice rollup = %+v", alice)
	}
}

func TestAggregateMarkdown(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	if err := e.ScanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	md := e.AggregateMarkdown()
	if !strings.Contains(md, "Agent") || !strings.Contains(md, "|") {
		t.Errorf("not a markdown table:\n%s", md)
	}
	if strings.Contains(md, "<table") {
		t.Errorf("markdown conversion fell back to HTML:\n%s", md)
	}
}

func TestExportCSV(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	if err := e.ScanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, name, err := e.ExportCSV()
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	if strings.TrimRight(first, "\r") != "Agent,List,Dialed,Contacts,Contact%,APPT,APPT%(C),APPT%(D),LXFER,LXFER%(C),LXFER%(D),Success,SUCCESS%(C),SUCCESS%(D)" {
		t.Errorf("csv header = %q", first)
	}
	if !strings.HasPrefix(name, "reportlens-") || !strings.HasSuffix(name, ".csv") {
		t.Errorf("filename = %q", name)
	}
}

func TestIngestPDF_FoldsIntoAggregate(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	ctx := context.Background()
	if err := e.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}

	agg, err := e.IngestPDF(buildPDF([][]string{
		{"User", "List", "Dialed", "Contacts"},
		{"Bob", "Support", "60", "25"},
	}))
	if err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}
	if agg.Agents["Alice"] == nil || agg.Agents["Bob"] == nil {
		t.Fatalf("agents = %v", agg.Agents)
	}
	if agg.Agents["Bob"].Totals.Dialed != 60 {
		t.Errorf("bob dialed = %v", agg.Agents["Bob"].Totals.Dialed)
	}
	if e.Status().Stats.TablesIngested != 1 {
		t.Errorf("tables ingested = %d", e.Status().Stats.TablesIngested)
	}

	// A second upload replaces the previous ingested set.
	agg, err = e.IngestPDF(buildPDF([][]string{
		{"User", "List", "Dialed", "Contacts"},
		{"Cara", "Support", "10", "5"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if agg.Agents["Bob"] != nil {
		t.Error("previous ingested tables not replaced")
	}
	if agg.Agents["Cara"] == nil || agg.Agents["Alice"] == nil {
		t.Errorf("agents = %v", agg.Agents)
	}
}

func TestStatus_Defaults(t *testing.T) {
	e, _ := testEngine(t, campaignReport)
	st := e.Status()
	if st.Product != "reportlens" || st.Source != "fake" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Derived) != 6 {
		t.Errorf("derived map = %v", st.Derived)
	}
	for k, on := range st.Derived {
		if !on {
			t.Errorf("descriptor %s disabled by default", k)
		}
	}
}

// --- PDF fixture ---

// buildPDF wraps a one-page content stream showing rows of cells (Td moves
// between cells, T* between rows) in the minimal skeleton pdfcpu validates.
func buildPDF(rows [][]string) []byte {
	var ops strings.Builder
	ops.WriteString("BT\n/F1 10 Tf\n72 720 Td\n")
	for i, row := range rows {
		if i > 0 {
			ops.WriteString("T*\n")
		}
		for j, cell := range row {
			if j > 0 {
				ops.WriteString("80 0 Td\n")
			}
			fmt.Fprintf(&ops, "(%s) Tj\n", cell)
		}
	}
	ops.WriteString("ET")
	stream := ops.String()

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 6)
	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")
	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(stream), stream)
	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	xref := b.Len()
	b.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}
