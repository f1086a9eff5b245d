// Package tabular holds the schema-side primitives of reportlens: the
// snapshot form of an extracted table, the fixed set of column roles, and
// the ranked-synonym header matcher that binds roles to real-world headers.
//
// Role resolution is deliberately re-run on every pass over fresh header
// text. Upstream reports re-render at will and column positions move;
// nothing in this package caches an index beyond a single call.
package tabular

import "strings"

// Snapshot is the engine-internal form of one extracted table: one header
// row plus zero or more body rows. Rows are not required to be rectangular;
// consumers tolerate short rows cell by cell.
type Snapshot struct {
	Headers []string
	Rows    [][]string
}

// Cell returns row[i], or the empty string when i is out of range (including
// the -1 produced by an unresolved role). Combined with ParseNumber's
// empty-means-zero rule this gives the lenient read path used everywhere:
// a missing column or truncated row reads as zero, never as an error.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Role names one of the column meanings reportlens understands.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleList     Role = "list"
	RoleDialed   Role = "dialed"
	RoleContacts Role = "contacts"
	RoleAppt     Role = "appt"
	RoleLXfer    Role = "lxfer"
	RoleSuccess  Role = "success"
)

// synonyms ranks candidate header substrings per role, most specific first.
// MatchHeader exhausts one candidate across all headers before trying the
// next, so "all success" binds a vendor's "All Success" column even when a
// bare "Success Rate" column is also present.
var synonyms = map[Role][]string{
	RoleAgent:    {"user", "agent"},
	RoleList:     {"list", "campaign"},
	RoleDialed:   {"dialed", "calls placed", "dials"},
	RoleContacts: {"contacts", "contact"},
	RoleAppt:     {"appt"},
	RoleLXfer:    {"lxfer", "local xfer"},
	RoleSuccess:  {"all success", "success"},
}

// Candidates returns the ranked synonym list for a role. The slice is a
// copy; callers may reorder or extend it freely.
func Candidates(r Role) []string {
	src := synonyms[r]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// MatchHeader finds the column index bound to a ranked candidate list.
// Candidates are tried in order; for each, headers are scanned in document
// order and the first header whose lowercase trimmed text contains the
// candidate wins. Returns -1 when no candidate matches any header.
//
// Substring containment (not equality) is what makes this survive vendor
// headers like "Status 'APPT - Appointment Scheduled'".
func MatchHeader(headers []string, candidates []string) int {
	for _, cand := range candidates {
		cand = strings.ToLower(cand)
		for i, h := range headers {
			if strings.Contains(strings.ToLower(strings.TrimSpace(h)), cand) {
				return i
			}
		}
	}
	return -1
}

// Resolve binds every known role against one header row. Absent roles map
// to -1; callers decide per operation which absences are disqualifying.
func Resolve(headers []string) map[Role]int {
	out := make(map[Role]int, len(synonyms))
	for role, cands := range synonyms {
		out[role] = MatchHeader(headers, cands)
	}
	return out
}
