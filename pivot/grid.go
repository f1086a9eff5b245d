package pivot

import (
	"strings"

	"github.com/hazyhaar/reportlens/metric"
)

// blockHeaders are the captions of one metric block, in column order. The
// CSV header and every grid block align with this list.
var blockHeaders = []string{
	"Dialed", "Contacts", "Contact%",
	"APPT", "APPT%(C)", "APPT%(D)",
	"LXFER", "LXFER%(C)", "LXFER%(D)",
	"Success", "SUCCESS%(C)", "SUCCESS%(D)",
}

// blockValues formats one counter tuple into the 12 block cells. Counts use
// FormatCount, ratios go through Pct/FormatPct, the same formulas the
// injected columns use, so view and export cannot drift.
func blockValues(c metric.Counters) []string {
	return []string{
		metric.FormatCount(c.Dialed),
		metric.FormatCount(c.Contacts),
		metric.FormatPct(metric.Pct(c.Contacts, c.Dialed)),
		metric.FormatCount(c.Appt),
		metric.FormatPct(metric.Pct(c.Appt, c.Contacts)),
		metric.FormatPct(metric.Pct(c.Appt, c.Dialed)),
		metric.FormatCount(c.LXfer),
		metric.FormatPct(metric.Pct(c.LXfer, c.Contacts)),
		metric.FormatPct(metric.Pct(c.LXfer, c.Dialed)),
		metric.FormatCount(c.Success),
		metric.FormatPct(metric.Pct(c.Success, c.Contacts)),
		metric.FormatPct(metric.Pct(c.Success, c.Dialed)),
	}
}

// Grid is the rendered pivot: one row per agent, a totals block first, then
// one block per visible list.
type Grid struct {
	// Blocks names each block: "Total" followed by the visible lists.
	Blocks []string `json:"blocks"`
	// Captions are the 12 per-block column captions.
	Captions []string  `json:"captions"`
	Rows     []GridRow `json:"rows"`
}

// GridRow is one agent's row: formatted cell blocks aligned with Grid.Blocks.
type GridRow struct {
	Agent string     `json:"agent"`
	Cells [][]string `json:"cells"`
}

// TotalBlock is the caption of the leading totals block.
const TotalBlock = "Total"

// BuildGrid renders the aggregation into its display grid. Agents are
// ordered descending by total dialed (ties by name); list blocks are sorted
// with the excluded rollup bucket dropped. An agent with no rows for a list
// gets that block as zeros.
func BuildGrid(agg *Aggregation, opts Options) *Grid {
	lists := visibleLists(agg, opts)

	g := &Grid{
		Blocks:   append([]string{TotalBlock}, lists...),
		Captions: append([]string(nil), blockHeaders...),
	}
	for _, agent := range sortedAgents(agg) {
		rollup := agg.Agents[agent]
		row := GridRow{Agent: agent}
		row.Cells = append(row.Cells, blockValues(rollup.Totals))
		for _, list := range lists {
			var c metric.Counters
			if lc := rollup.Lists[list]; lc != nil {
				c = *lc
			}
			row.Cells = append(row.Cells, blockValues(c))
		}
		g.Rows = append(g.Rows, row)
	}
	return g
}

// RenderHTML emits the grid as a plain standalone table. One header row
// with block-qualified captions keeps the markup trivial to restyle and
// clean to convert to markdown.
func (g *Grid) RenderHTML(title string) string {
	var sb strings.Builder
	sb.WriteString("<table>\n<tr><th>Agent</th>")
	for _, block := range g.Blocks {
		for _, caption := range g.Captions {
			sb.WriteString("<th>")
			sb.WriteString(htmlEscape(block + " " + caption))
			sb.WriteString("</th>")
		}
	}
	sb.WriteString("</tr>\n")

	for _, row := range g.Rows {
		sb.WriteString("<tr><td>")
		sb.WriteString(htmlEscape(row.Agent))
		sb.WriteString("</td>")
		for _, block := range row.Cells {
			for _, cell := range block {
				sb.WriteString("<td>")
				sb.WriteString(htmlEscape(cell))
				sb.WriteString("</td>")
			}
		}
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</table>\n")

	if title == "" {
		return sb.String()
	}
	return "<h1>" + htmlEscape(title) + "</h1>\n" + sb.String()
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func htmlEscape(s string) string {
	return htmlEscaper.Replace(s)
}
