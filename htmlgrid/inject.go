package htmlgrid

import (
	"sort"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/reportlens/metric"
	"github.com/hazyhaar/reportlens/settings"
	"github.com/hazyhaar/reportlens/tabular"
)

// Skip reasons reported by Inject.
const (
	SkipNoBasis  = "no ratio basis columns"
	SkipInjected = "derived columns already present"
)

// InjectReport says what Inject did to one table.
type InjectReport struct {
	// Injected lists the descriptor keys inserted, in descriptor-table order.
	Injected []string
	// Skipped carries the reason when the table was left untouched.
	Skipped string
}

// insertion is one pending derived column: anchor is the numerator column
// index the new cell goes after, ord its position in the descriptor table.
type insertion struct {
	anchor int
	ord    int
	spec   metric.Spec
}

// Inject adds the enabled derived percentage columns to the table.
//
// Roles are resolved fresh from current header text. A table offering
// neither a contacts nor a dialed column has no ratio basis and is skipped;
// a table already carrying any derived header is skipped whole (the guard
// that makes re-scans idempotent). Insertions are applied right to left so
// indices stay valid within the pass; descriptors sharing an anchor end up
// left to right in descriptor-table order.
func (t *Table) Inject(cfg settings.Config) InjectReport {
	headerRow := t.HeaderRow()
	if headerRow == nil {
		return InjectReport{Skipped: SkipNoBasis}
	}
	headers := t.Headers()
	roles := tabular.Resolve(headers)

	if roles[tabular.RoleContacts] < 0 && roles[tabular.RoleDialed] < 0 {
		return InjectReport{Skipped: SkipNoBasis}
	}
	for _, h := range headers {
		if metric.IsDerivedLabel(h) {
			return InjectReport{Skipped: SkipInjected}
		}
	}

	var reqs []insertion
	for i, s := range metric.Specs {
		num := roles[s.Numerator]
		den := roles[s.Denominator]
		if num < 0 || den < 0 || !cfg.DerivedOn(s.Key) {
			continue
		}
		reqs = append(reqs, insertion{anchor: num, ord: i, spec: s})
	}
	if len(reqs) == 0 {
		return InjectReport{}
	}

	// Descending anchor order keeps lower indices valid as cells land;
	// descending descriptor order makes same-anchor cells read forward.
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].anchor != reqs[j].anchor {
			return reqs[i].anchor > reqs[j].anchor
		}
		return reqs[i].ord > reqs[j].ord
	})

	headerCells := cells(headerRow)
	for _, req := range reqs {
		if req.anchor >= len(headerCells) {
			continue
		}
		anchor := headerCells[req.anchor]
		insertAfter(anchor, newHeaderCell(anchor.DataAtom, req.spec))
	}

	rolesIdx := roles // value reads stay positional against the original row
	for _, tr := range t.BodyRows() {
		rowCells := cells(tr)
		rowTexts := cellTexts(rowCells)
		for _, req := range reqs {
			// Row-local anchor: a short row skips just this insertion.
			if req.anchor >= len(rowCells) {
				continue
			}
			num := tabular.ParseNumber(tabular.Cell(rowTexts, rolesIdx[req.spec.Numerator]))
			den := tabular.ParseNumber(tabular.Cell(rowTexts, rolesIdx[req.spec.Denominator]))
			val := metric.FormatPct(metric.Pct(num, den))
			insertAfter(rowCells[req.anchor], newValueCell(val))
		}
	}

	injected := make([]string, 0, len(reqs))
	for _, s := range metric.Specs {
		for _, req := range reqs {
			if req.spec.Key == s.Key {
				injected = append(injected, s.Key)
			}
		}
	}
	return InjectReport{Injected: injected}
}

func newHeaderCell(tag atom.Atom, s metric.Spec) *html.Node {
	if tag != atom.Th && tag != atom.Td {
		tag = atom.Th
	}
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: tag,
		Data:     tag.String(),
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: "style", Val: "color:" + s.Kind.Color()},
			{Key: "title", Val: s.Title},
		},
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: s.Label})
	return n
}

func newValueCell(text string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Td,
		Data:     "td",
		Attr:     []html.Attribute{{Key: "class", Val: MarkerClass}},
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
