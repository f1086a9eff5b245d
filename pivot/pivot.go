// Package pivot builds the cross-table agent×list aggregation of reportlens
// and serializes it: extraction from table snapshots, the display grid, and
// the CSV artifact.
//
// An aggregation is always built fresh from the snapshots of the current
// pass and never persisted; stale-index bugs cannot exist because nothing
// outlives the pass that computed it.
package pivot

import (
	"sort"
	"strings"

	"github.com/hazyhaar/reportlens/metric"
	"github.com/hazyhaar/reportlens/tabular"
)

// Fallback partition names for rows missing an identity cell.
const (
	DefaultList  = "Default"
	UnknownAgent = "Unknown"
)

// minRowCells is the smallest row worth aggregating; anything shorter is a
// separator or decoration row.
const minRowCells = 3

// Options adjust grid rendering and CSV export.
type Options struct {
	// ExcludeList names the vendor's self-referential rollup bucket that
	// would duplicate the totals block. Matched case-insensitively.
	// Empty means the default "all".
	ExcludeList string
}

func (o Options) excludeList() string {
	if o.ExcludeList == "" {
		return "all"
	}
	return o.ExcludeList
}

// AgentRollup carries one agent's counters: the per-list tuples and the
// independently accumulated totals.
type AgentRollup struct {
	Totals metric.Counters             `json:"totals"`
	Lists  map[string]*metric.Counters `json:"lists"`
}

// Aggregation is the result of one extraction pass.
type Aggregation struct {
	Agents map[string]*AgentRollup `json:"agents"`
	// Lists holds the distinct list names seen, sorted.
	Lists []string `json:"lists"`
	// TablesUsed and TablesSkipped describe the pass for status reporting.
	TablesUsed    int `json:"tables_used"`
	TablesSkipped int `json:"tables_skipped"`
}

// Extract aggregates every qualifying snapshot. A table without an agent
// column is skipped whole (agent identity is mandatory); a missing list
// column books rows under DefaultList. Rows shorter than three cells are
// dropped; blank agent cells book under UnknownAgent. Counters are read
// leniently: unresolved roles and unparsable cells count zero.
//
// Totals are accumulated row by row alongside the per-list tuples, not
// derived afterward; each agent's totals always equal the elementwise sum
// of that agent's list tuples.
func Extract(snaps []tabular.Snapshot) *Aggregation {
	agg := &Aggregation{Agents: make(map[string]*AgentRollup)}
	seen := make(map[string]bool)

	for _, snap := range snaps {
		roles := tabular.Resolve(snap.Headers)
		if roles[tabular.RoleAgent] < 0 {
			agg.TablesSkipped++
			continue
		}
		agg.TablesUsed++

		for _, row := range snap.Rows {
			if len(row) < minRowCells {
				continue
			}
			agent := strings.TrimSpace(tabular.Cell(row, roles[tabular.RoleAgent]))
			if agent == "" {
				agent = UnknownAgent
			}
			list := DefaultList
			if idx := roles[tabular.RoleList]; idx >= 0 {
				if v := strings.TrimSpace(tabular.Cell(row, idx)); v != "" {
					list = v
				}
			}
			c := metric.FromRow(row, roles)

			rollup := agg.Agents[agent]
			if rollup == nil {
				rollup = &AgentRollup{Lists: make(map[string]*metric.Counters)}
				agg.Agents[agent] = rollup
			}
			lc := rollup.Lists[list]
			if lc == nil {
				lc = &metric.Counters{}
				rollup.Lists[list] = lc
			}
			lc.Add(c)
			rollup.Totals.Add(c)

			if !seen[list] {
				seen[list] = true
				agg.Lists = append(agg.Lists, list)
			}
		}
	}

	sort.Strings(agg.Lists)
	return agg
}

// sortedAgents returns agent names ordered for display: descending by total
// dialed, ties broken by name.
func sortedAgents(agg *Aggregation) []string {
	names := make([]string, 0, len(agg.Agents))
	for name := range agg.Agents {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di := agg.Agents[names[i]].Totals.Dialed
		dj := agg.Agents[names[j]].Totals.Dialed
		if di != dj {
			return di > dj
		}
		return names[i] < names[j]
	})
	return names
}

// visibleLists filters and sorts the aggregation's list names for display,
// dropping the excluded rollup bucket.
func visibleLists(agg *Aggregation, opts Options) []string {
	excl := opts.excludeList()
	out := make([]string, 0, len(agg.Lists))
	for _, l := range agg.Lists {
		if strings.EqualFold(l, excl) {
			continue
		}
		out = append(out, l)
	}
	return out
}
