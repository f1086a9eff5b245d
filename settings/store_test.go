package settings

import (
	"context"
	"testing"

	"github.com/hazyhaar/reportlens/dbopen"
	"github.com/hazyhaar/reportlens/metric"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if len(cfg.DerivedEnabled) != len(metric.Specs) {
		t.Fatalf("defaults cover %d descriptors, want %d", len(cfg.DerivedEnabled), len(metric.Specs))
	}
	for _, s := range metric.Specs {
		if !cfg.DerivedOn(s.Key) {
			t.Errorf("descriptor %s not enabled by default", s.Key)
		}
	}
	if len(cfg.HiddenOriginal) != 0 {
		t.Fatalf("defaults hide %d columns, want 0", len(cfg.HiddenOriginal))
	}
}

func TestLoad_Empty(t *testing.T) {
	st := testStore(t)

	cfg, err := st.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range metric.Specs {
		if !cfg.DerivedOn(s.Key) {
			t.Errorf("empty store: %s should default to enabled", s.Key)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	cfg := Defaults()
	cfg.DerivedEnabled["lxfer_dialed"] = false
	cfg.HiddenOriginal["Leads"] = true

	if err := st.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.DerivedOn("lxfer_dialed") {
		t.Error("lxfer_dialed should be disabled after round trip")
	}
	if !got.DerivedOn("appt_contacts") {
		t.Error("appt_contacts should stay enabled")
	}
	if !got.Hidden("Leads") {
		t.Error("Leads should be hidden after round trip")
	}
	if got.Hidden("Dialed") {
		t.Error("Dialed should not be hidden")
	}
}

// WHAT: rows for keys this build does not know survive load, and known keys
// missing from the store keep their built-in default.
// WHY: the descriptor table grows across versions; an old database must not
// disable new columns, and a new database must not crash an old build.
func TestLoad_MergesOverDefaults(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, err := st.DB.Exec(`INSERT INTO derived_columns (key, enabled) VALUES ('appt_dialed', 0), ('future_metric', 1)`); err != nil {
		t.Fatal(err)
	}

	cfg, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DerivedOn("appt_dialed") {
		t.Error("stored disable must overlay default")
	}
	if !cfg.DerivedOn("success_contacts") {
		t.Error("unstored key must keep default enabled")
	}
	if !cfg.DerivedOn("future_metric") {
		t.Error("unknown stored key must be preserved")
	}
}

func TestSave_LastWriteWins(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first := Defaults()
	first.HiddenOriginal["A"] = true
	if err := st.Save(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := Defaults()
	second.HiddenOriginal["B"] = true
	if err := st.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hidden("A") {
		t.Error("first save should be fully replaced")
	}
	if !got.Hidden("B") {
		t.Error("second save lost")
	}
}

func TestClone_Independent(t *testing.T) {
	cfg := Defaults()
	cp := cfg.Clone()
	cp.DerivedEnabled["appt_contacts"] = false
	cp.HiddenOriginal["X"] = true

	if !cfg.DerivedOn("appt_contacts") {
		t.Error("clone mutation leaked into original")
	}
	if cfg.Hidden("X") {
		t.Error("clone mutation leaked into original hidden set")
	}
}
