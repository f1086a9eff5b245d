// Package metric defines the derived-ratio layer of reportlens: the raw
// counter tuple extracted from a report row, the fixed table of six derived
// percentage descriptors, and the shared percentage math and formatting that
// every consumer (column injection, pivot view, CSV export) must go through
// so that display and export can never drift apart.
package metric

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hazyhaar/reportlens/tabular"
)

// Counters is the raw per-row tuple of campaign counts.
type Counters struct {
	Dialed   float64 `json:"dialed"`
	Contacts float64 `json:"contacts"`
	Appt     float64 `json:"appt"`
	LXfer    float64 `json:"lxfer"`
	Success  float64 `json:"success"`
}

// Add accumulates o into c elementwise.
func (c *Counters) Add(o Counters) {
	c.Dialed += o.Dialed
	c.Contacts += o.Contacts
	c.Appt += o.Appt
	c.LXfer += o.LXfer
	c.Success += o.Success
}

// ByRole returns the counter bound to a column role, 0 for roles that do not
// name a counter (agent, list).
func (c Counters) ByRole(r tabular.Role) float64 {
	switch r {
	case tabular.RoleDialed:
		return c.Dialed
	case tabular.RoleContacts:
		return c.Contacts
	case tabular.RoleAppt:
		return c.Appt
	case tabular.RoleLXfer:
		return c.LXfer
	case tabular.RoleSuccess:
		return c.Success
	}
	return 0
}

// FromRow reads the five counters out of one body row given a role
// resolution. Unresolved roles and short rows read as zero via the lenient
// Cell/ParseNumber path.
func FromRow(row []string, roles map[tabular.Role]int) Counters {
	return Counters{
		Dialed:   tabular.ParseNumber(tabular.Cell(row, roles[tabular.RoleDialed])),
		Contacts: tabular.ParseNumber(tabular.Cell(row, roles[tabular.RoleContacts])),
		Appt:     tabular.ParseNumber(tabular.Cell(row, roles[tabular.RoleAppt])),
		LXfer:    tabular.ParseNumber(tabular.Cell(row, roles[tabular.RoleLXfer])),
		Success:  tabular.ParseNumber(tabular.Cell(row, roles[tabular.RoleSuccess])),
	}
}

// Pct is the single ratio formula of the engine.
// A zero or negative denominator yields exactly 0, never NaN or Inf.
func Pct(num, den float64) float64 {
	if den > 0 {
		return num / den * 100
	}
	return 0
}

// FormatPct renders a percentage to two decimals with a trailing percent
// sign. Non-finite input renders as a dash.
func FormatPct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", v)
}

// FormatCount renders a raw counter without trailing zeros: "100", "2.5".
// Counts pass through ParseNumber as floats but almost always started as
// integers; re-printing "100.00" would look invented.
func FormatCount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Kind groups descriptors by their numerator metric; it drives the header
// color of injected columns.
type Kind string

const (
	KindAppt    Kind = "appt"
	KindLXfer   Kind = "lxfer"
	KindSuccess Kind = "success"
)

// Color returns the header text color used for injected columns of this kind.
func (k Kind) Color() string {
	switch k {
	case KindAppt:
		return "#2e7d32"
	case KindLXfer:
		return "#1565c0"
	case KindSuccess:
		return "#6a1b9a"
	}
	return ""
}

// Spec describes one derived percentage column.
type Spec struct {
	Key         string       // settings key for the enabled flag
	Label       string       // injected header text; doubles as the marker
	Kind        Kind         // color grouping
	Numerator   tabular.Role // also the insertion anchor
	Denominator tabular.Role
	Title       string // header tooltip
}

// Of computes this descriptor's percentage from a counter tuple.
func (s Spec) Of(c Counters) float64 {
	return Pct(c.ByRole(s.Numerator), c.ByRole(s.Denominator))
}

// Specs is the fixed descriptor table: {appt, lxfer, success} crossed with
// {per contacts, per dialed}. Order is render order; descriptors sharing an
// anchor column appear left to right in this order.
var Specs = []Spec{
	{
		Key:         "appt_contacts",
		Label:       "APPT%(C)",
		Kind:        KindAppt,
		Numerator:   tabular.RoleAppt,
		Denominator: tabular.RoleContacts,
		Title:       "Appointments as a percentage of contacts",
	},
	{
		Key:         "appt_dialed",
		Label:       "APPT%(D)",
		Kind:        KindAppt,
		Numerator:   tabular.RoleAppt,
		Denominator: tabular.RoleDialed,
		Title:       "Appointments as a percentage of calls dialed",
	},
	{
		Key:         "lxfer_contacts",
		Label:       "LXFER%(C)",
		Kind:        KindLXfer,
		Numerator:   tabular.RoleLXfer,
		Denominator: tabular.RoleContacts,
		Title:       "Local transfers as a percentage of contacts",
	},
	{
		Key:         "lxfer_dialed",
		Label:       "LXFER%(D)",
		Kind:        KindLXfer,
		Numerator:   tabular.RoleLXfer,
		Denominator: tabular.RoleDialed,
		Title:       "Local transfers as a percentage of calls dialed",
	},
	{
		Key:         "success_contacts",
		Label:       "SUCCESS%(C)",
		Kind:        KindSuccess,
		Numerator:   tabular.RoleSuccess,
		Denominator: tabular.RoleContacts,
		Title:       "Successful outcomes as a percentage of contacts",
	},
	{
		Key:         "success_dialed",
		Label:       "SUCCESS%(D)",
		Kind:        KindSuccess,
		Numerator:   tabular.RoleSuccess,
		Denominator: tabular.RoleDialed,
		Title:       "Successful outcomes as a percentage of calls dialed",
	},
}

// ByKey finds the descriptor with the given settings key.
func ByKey(key string) (Spec, bool) {
	for _, s := range Specs {
		if s.Key == key {
			return s, true
		}
	}
	return Spec{}, false
}

// ByLabel finds the descriptor whose Label equals the given header text.
func ByLabel(label string) (Spec, bool) {
	for _, s := range Specs {
		if s.Label == label {
			return s, true
		}
	}
	return Spec{}, false
}

// IsDerivedLabel reports whether a header text is one of the injected
// column labels.
func IsDerivedLabel(label string) bool {
	_, ok := ByLabel(label)
	return ok
}
