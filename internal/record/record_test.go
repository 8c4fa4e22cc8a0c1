package record

import (
	"testing"
	"time"
)

func TestNormalizeCluster(t *testing.T) {
	known := []Cluster{"North", "South"}

	if got := NormalizeCluster(known, "North"); got != "North" {
		t.Fatalf("want North, got %s", got)
	}
	if got := NormalizeCluster(known, "Atlantis"); got != ClusterUnknown {
		t.Fatalf("unknown tag should map to %s, got %s", ClusterUnknown, got)
	}
	if got := NormalizeCluster(known, ""); got != ClusterUnknown {
		t.Fatalf("empty tag should map to %s, got %s", ClusterUnknown, got)
	}
}

func TestScopeCluster(t *testing.T) {
	if _, ok := ScopeAll.Cluster(); ok {
		t.Fatal("ScopeAll must not select a cluster")
	}
	if _, ok := Scope("").Cluster(); ok {
		t.Fatal("empty scope must not select a cluster")
	}
	c, ok := Scope("North").Cluster()
	if !ok || c != "North" {
		t.Fatalf("want North/true, got %s/%v", c, ok)
	}
}

func TestSanitizedKidNames(t *testing.T) {
	rec := AttendanceRecord{KidNames: map[string]string{
		"kid1": "Ama",
		"kid2": "",
		"":     "Nobody",
	}}
	got := rec.SanitizedKidNames()
	if len(got) != 1 || got["kid1"] != "Ama" {
		t.Fatalf("want only kid1=Ama, got %v", got)
	}

	// nothing survives -> nil, not an empty map
	rec = AttendanceRecord{KidNames: map[string]string{"": ""}}
	if got := rec.SanitizedKidNames(); got != nil {
		t.Fatalf("want nil, got %v", got)
	}
	rec = AttendanceRecord{}
	if got := rec.SanitizedKidNames(); got != nil {
		t.Fatalf("want nil for empty input, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	rec := AttendanceRecord{MarkedBy: "u1", MarkedAt: time.Now()}
	if err := rec.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	rec.MarkedBy = ""
	if err := rec.Validate(); err != ErrEmptyMarkedBy {
		t.Fatalf("want ErrEmptyMarkedBy, got %v", err)
	}
	rec.MarkedBy = "u1"
	rec.MarkedAt = time.Time{}
	if err := rec.Validate(); err != ErrZeroMarkedAt {
		t.Fatalf("want ErrZeroMarkedAt, got %v", err)
	}

	if err := (Employee{}).Validate(); err != ErrEmptyID {
		t.Fatalf("want ErrEmptyID, got %v", err)
	}
}

func TestPresentCount(t *testing.T) {
	rec := AttendanceRecord{Employee: true, Kid1: true, Kid3: true}
	if got := rec.PresentCount(); got != 3 {
		t.Fatalf("want 3, got %d", got)
	}
	if got := (AttendanceRecord{}).PresentCount(); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

// TestJoin checks the left-join contract: one row per employee in input
// order, nil Attendance for employees without a record, and a private copy of
// each record so later map mutation cannot leak into rows.
func TestJoin(t *testing.T) {
	employees := []Employee{
		{ID: "e1", Name: "Abena", Cluster: "North"},
		{ID: "e2", Name: "Kwame", Cluster: "North"},
		{ID: "e3", Name: "Esi", Cluster: "South"},
	}
	attendance := map[string]AttendanceRecord{
		"e1": {Employee: true, MarkedBy: "u1", MarkedAt: time.Now()},
		"e3": {Spouse: true, MarkedBy: "u2", MarkedAt: time.Now()},
	}

	rows := Join(employees, attendance)
	if len(rows) != 3 {
		t.Fatalf("want 3 rows, got %d", len(rows))
	}
	for i, e := range employees {
		if rows[i].ID != e.ID {
			t.Fatalf("row %d: want %s, got %s (order must be preserved)", i, e.ID, rows[i].ID)
		}
	}
	if rows[0].Attendance == nil || !rows[0].Attendance.Employee {
		t.Fatal("e1 should carry its record")
	}
	if rows[1].Attendance != nil {
		t.Fatal("e2 has no record, Attendance must be nil")
	}

	// mutating the source map must not change the joined rows
	attendance["e1"] = AttendanceRecord{MarkedBy: "x", MarkedAt: time.Now()}
	if !rows[0].Attendance.Employee {
		t.Fatal("row holds a reference into the source map")
	}
}
