package htmlgrid

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/reportlens/metric"
	"github.com/hazyhaar/reportlens/settings"
)

// ApplyVisibility sets the shown/hidden state of every column in the table.
// Derived headers follow their descriptor's enabled flag; original headers
// are shown unless listed in the hidden set. The state lands on the header
// cell and on every body cell at the same positional index, as the columns
// stand at call time.
func (t *Table) ApplyVisibility(cfg settings.Config) {
	for i, h := range t.Headers() {
		var show bool
		if s, ok := metric.ByLabel(h); ok {
			show = cfg.DerivedOn(s.Key)
		} else {
			show = !cfg.Hidden(h)
		}
		t.setColumnDisplay(i, show)
	}
}

// ToggleColumn flips one column's visibility by header text across every
// table in the document, without a re-scan. Returns the number of columns
// touched. This is the live path behind a visibility checkbox; the durable
// state still comes from the next ApplyVisibility.
func ToggleColumn(doc *html.Node, header string, show bool) int {
	count := 0
	for _, t := range Tables(doc) {
		for i, h := range t.Headers() {
			if h == header {
				t.setColumnDisplay(i, show)
				count++
			}
		}
	}
	return count
}

// setColumnDisplay applies one display state to the column at idx. Rows too
// short to have a cell there are left alone.
func (t *Table) setColumnDisplay(idx int, show bool) {
	header := t.HeaderRow()
	if header == nil {
		return
	}
	if hc := cells(header); idx < len(hc) {
		setDisplay(hc[idx], show)
	}
	for _, tr := range t.BodyRows() {
		if rc := cells(tr); idx < len(rc) {
			setDisplay(rc[idx], show)
		}
	}
}

// setDisplay hides or shows a cell through its inline style, leaving every
// other style declaration (injected header colors included) in place.
func setDisplay(n *html.Node, show bool) {
	var kept []string
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" || strings.HasPrefix(strings.ToLower(decl), "display") {
			continue
		}
		kept = append(kept, decl)
	}
	if !show {
		kept = append(kept, "display:none")
	}
	setAttr(n, "style", strings.Join(kept, ";"))
}
