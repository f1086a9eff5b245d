package pivot

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// WriteCSV emits the aggregation as the export artifact: a fixed header
// line, then one row per (agent, list) pair in display order, with the
// excluded rollup bucket dropped. Ratio cells carry the same two-decimal
// formatting the grid shows.
func WriteCSV(w io.Writer, agg *Aggregation, opts Options) error {
	cw := csv.NewWriter(w)

	header := append([]string{"Agent", "List"}, blockHeaders...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("pivot: write csv header: %w", err)
	}

	for _, agent := range sortedAgents(agg) {
		rollup := agg.Agents[agent]
		for _, list := range visibleLists(agg, opts) {
			lc := rollup.Lists[list]
			if lc == nil {
				continue
			}
			rec := append([]string{agent, list}, blockValues(*lc)...)
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("pivot: write csv row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("pivot: flush csv: %w", err)
	}
	return nil
}

// Filename names the export artifact: "<product>-<ISO date>.csv".
func Filename(product string, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", product, now.Format("2006-01-02"))
}
