package tabular

import "testing"

func TestMatchHeader(t *testing.T) {
	headers := []string{"User", "List", "Dialed", "Contacts", "Status 'APPT - Appointment Scheduled'", "LXFER", "All Success"}

	tests := []struct {
		role Role
		want int
	}{
		{RoleAgent, 0},
		{RoleList, 1},
		{RoleDialed, 2},
		{RoleContacts, 3},
		{RoleAppt, 4},
		{RoleLXfer, 5},
		{RoleSuccess, 6},
	}

	for _, tt := range tests {
		got := MatchHeader(headers, Candidates(tt.role))
		if got != tt.want {
			t.Errorf("MatchHeader(%s) = %d, want %d", tt.role, got, tt.want)
		}
	}
}

// WHAT: verifies one candidate is exhausted across every header before the
// next candidate is tried.
// WHY: "all success" must bind the vendor's All Success column even when a
// plain "Success Rate" column appears earlier in the row; falling through
// per header instead of per candidate would grab the wrong column.
func TestMatchHeader_CandidatePriority(t *testing.T) {
	headers := []string{"Success Rate", "All Success"}
	if got := MatchHeader(headers, Candidates(RoleSuccess)); got != 1 {
		t.Fatalf("expected ranked candidate to win: got %d, want 1", got)
	}

	// Only the lower-ranked synonym present: fall through and take it.
	headers = []string{"Agent Name", "Calls"}
	if got := MatchHeader(headers, Candidates(RoleAgent)); got != 0 {
		t.Fatalf("expected fallback candidate match: got %d, want 0", got)
	}
}

func TestMatchHeader_NoMatch(t *testing.T) {
	headers := []string{"Foo", "Bar"}
	if got := MatchHeader(headers, Candidates(RoleDialed)); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
	if got := MatchHeader(nil, Candidates(RoleDialed)); got != -1 {
		t.Fatalf("expected -1 on empty headers, got %d", got)
	}
}

func TestMatchHeader_CaseAndPadding(t *testing.T) {
	headers := []string{"  DIALED  "}
	if got := MatchHeader(headers, Candidates(RoleDialed)); got != 0 {
		t.Fatalf("expected case-insensitive trimmed match, got %d", got)
	}
}

func TestResolve(t *testing.T) {
	headers := []string{"User", "Dialed", "Contacts"}
	roles := Resolve(headers)

	if roles[RoleAgent] != 0 || roles[RoleDialed] != 1 || roles[RoleContacts] != 2 {
		t.Fatalf("unexpected resolution: %v", roles)
	}
	// Every known role is present in the map, absent ones as -1.
	for _, r := range []Role{RoleList, RoleAppt, RoleLXfer, RoleSuccess} {
		idx, ok := roles[r]
		if !ok {
			t.Fatalf("role %s missing from Resolve result", r)
		}
		if idx != -1 {
			t.Errorf("role %s: got %d, want -1", r, idx)
		}
	}
}

func TestCell(t *testing.T) {
	row := []string{"a", "b"}

	tests := []struct {
		i    int
		want string
	}{
		{0, "a"},
		{1, "b"},
		{2, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := Cell(row, tt.i); got != tt.want {
			t.Errorf("Cell(row, %d) = %q, want %q", tt.i, got, tt.want)
		}
	}
}
