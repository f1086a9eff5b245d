package tabular

import (
	"strconv"
	"strings"
)

// numberCleaner drops the decorations report cells wrap around numbers:
// percent signs, currency symbols, thousands separators, plain and
// non-breaking spaces. What survives either parses as a float or the cell
// was never numeric.
var numberCleaner = strings.NewReplacer(
	"%", "",
	"$", "",
	"€", "",
	"£", "",
	",", "",
	" ", "",
	" ", "",
	"\t", "",
)

// ParseNumber reads a report cell as a float64. Empty cells, placeholder
// dashes, and outright text all return 0; third-party reports render zero
// counts a dozen different ways and none of them should stall a pass.
// ParseNumber is total: it never reports failure.
func ParseNumber(s string) float64 {
	s = numberCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
