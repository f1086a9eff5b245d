// Package htmlgrid is the DOM side of reportlens: it finds the tables in a
// parsed report document, snapshots their text content for the schema layer,
// inserts derived percentage columns, and applies the visibility policy.
//
// All mutation happens in place on the *html.Node tree. Cells created by this
// package carry MarkerClass; original content is never removed, only its
// display state toggled.
package htmlgrid

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/reportlens/tabular"
)

// MarkerClass tags every cell reportlens creates, so the engine can always
// tell its own insertions from original report content.
const MarkerClass = "rl-derived"

// Table wraps one <table> element found in a document.
type Table struct {
	Node *html.Node
}

// Tables returns every table element in the document, nested ones included.
// Each nested table owns its own rows; an outer table never sees them.
func Tables(doc *html.Node) []*Table {
	var out []*Table
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Table {
			out = append(out, &Table{Node: n})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return out
}

// rows collects the table's own <tr> elements in document order, descending
// through thead/tbody/tfoot but not into nested tables or into the rows
// themselves.
func (t *Table) rows() []*html.Node {
	var out []*html.Node
	var f func(*html.Node)
	f = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Tr:
				out = append(out, c)
			case atom.Table:
				// nested table owns its rows
			default:
				f(c)
			}
		}
	}
	f(t.Node)
	return out
}

// HeaderRow returns the row holding the column headers: the first row with a
// <th> cell, else the first row. Nil for a rowless table.
func (t *Table) HeaderRow() *html.Node {
	rows := t.rows()
	for _, r := range rows {
		for _, c := range cells(r) {
			if c.DataAtom == atom.Th {
				return r
			}
		}
	}
	if len(rows) > 0 {
		return rows[0]
	}
	return nil
}

// BodyRows returns every row except the header row.
func (t *Table) BodyRows() []*html.Node {
	header := t.HeaderRow()
	var out []*html.Node
	for _, r := range t.rows() {
		if r != header {
			out = append(out, r)
		}
	}
	return out
}

// Headers returns the normalized text of each header cell.
func (t *Table) Headers() []string {
	header := t.HeaderRow()
	if header == nil {
		return nil
	}
	return cellTexts(cells(header))
}

// Snapshot extracts the table into its schema-layer form.
func (t *Table) Snapshot() tabular.Snapshot {
	snap := tabular.Snapshot{Headers: t.Headers()}
	for _, r := range t.BodyRows() {
		snap.Rows = append(snap.Rows, cellTexts(cells(r)))
	}
	return snap
}

// --- Node helpers ---

// cells returns the direct th/td children of a row.
func cells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Th || c.DataAtom == atom.Td) {
			out = append(out, c)
		}
	}
	return out
}

func cellTexts(cs []*html.Node) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = cellText(c)
	}
	return out
}

// cellText extracts the visible text of a cell with runs of whitespace
// collapsed to single spaces. Pretty-printed markup must not change a
// header's identity.
func cellText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// setAttr sets an attribute, replacing any existing value. An empty value
// removes the attribute.
func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			if val == "" {
				n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			} else {
				n.Attr[i].Val = val
			}
			return
		}
	}
	if val != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
}

// insertAfter places n immediately after ref among ref's siblings.
func insertAfter(ref, n *html.Node) {
	if ref.NextSibling != nil {
		ref.Parent.InsertBefore(n, ref.NextSibling)
	} else {
		ref.Parent.AppendChild(n)
	}
}
