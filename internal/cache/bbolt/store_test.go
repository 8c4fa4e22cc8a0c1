package bbolt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rollcall-project/rollcall/internal/record"
)

// handy constants -----------------------------------------------------------

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "cache.db"), nil, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestNewAndBuckets checks that the DB opens and buckets exist.
func TestNewAndBuckets(t *testing.T) {
	s := openTestStore(t)

	info, err := os.Stat(s.db.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("DB file should not be empty")
	}
}

// TestPartitionUnion covers the no-lost-updates property: the union of every
// per-cluster read equals the all-clusters read, and no employee shows up in
// two clusters.
func TestPartitionUnion(t *testing.T) {
	s := openTestStore(t)

	employees := []record.Employee{
		{ID: "e1", Name: "Abena", Cluster: "North"},
		{ID: "e2", Name: "Kwame", Cluster: "North"},
		{ID: "e3", Name: "Esi", Cluster: "South"},
		{ID: "e4", Name: "Yaw", Cluster: "East"},
	}
	if err := s.PutEmployees(ctx, employees); err != nil {
		t.Fatalf("put employees: %v", err)
	}

	union := map[string]int{}
	for _, cluster := range []record.Cluster{"North", "South", "East", "West"} {
		got, err := s.EmployeesByCluster(ctx, cluster)
		if err != nil {
			t.Fatalf("by cluster %s: %v", cluster, err)
		}
		for _, e := range got {
			union[e.ID]++
		}
	}
	all, err := s.AllEmployees(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != len(employees) {
		t.Fatalf("all: want %d employees, got %d", len(employees), len(all))
	}
	for _, e := range employees {
		if union[e.ID] != 1 {
			t.Fatalf("employee %s appears in %d clusters, want exactly 1", e.ID, union[e.ID])
		}
	}
}

// TestEmployeeClusterMove verifies last-write-wins upserts: an employee whose
// cluster changed must not linger under the old cluster key.
func TestEmployeeClusterMove(t *testing.T) {
	s := openTestStore(t)

	_ = s.PutEmployees(ctx, []record.Employee{{ID: "e1", Name: "Abena", Cluster: "North"}})
	_ = s.PutEmployees(ctx, []record.Employee{{ID: "e1", Name: "Abena", Cluster: "South"}})

	north, _ := s.EmployeesByCluster(ctx, "North")
	if len(north) != 0 {
		t.Fatalf("North should be empty after move, got %d", len(north))
	}
	south, _ := s.EmployeesByCluster(ctx, "South")
	if len(south) != 1 || south[0].ID != "e1" {
		t.Fatalf("South should hold e1, got %+v", south)
	}
	all, _ := s.AllEmployees(ctx)
	if len(all) != 1 {
		t.Fatalf("want 1 employee total, got %d", len(all))
	}
}

// TestAttendanceUpsertDelete covers:
//   - PutAttendance upsert + read back
//   - nil record deletes, with and without the cluster argument
func TestAttendanceUpsertDelete(t *testing.T) {
	s := openTestStore(t)

	rec := record.AttendanceRecord{
		Employee: true,
		MarkedBy: "u1",
		MarkedAt: time.Now(),
	}
	if err := s.PutAttendance(ctx, "e1", &rec, "North"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutAttendance(ctx, "e2", &rec, "North"); err != nil {
		t.Fatalf("put: %v", err)
	}

	north, err := s.AttendanceByCluster(ctx, "North")
	if err != nil {
		t.Fatalf("by cluster: %v", err)
	}
	if len(north) != 2 || !north["e1"].Employee {
		t.Fatalf("want 2 records with e1 present, got %+v", north)
	}

	// delete without knowing the cluster: the index must resolve it
	if err := s.PutAttendance(ctx, "e1", nil, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	north, _ = s.AttendanceByCluster(ctx, "North")
	if _, ok := north["e1"]; ok {
		t.Fatal("e1 should be gone")
	}
	all, _ := s.AllAttendance(ctx)
	if len(all) != 1 {
		t.Fatalf("want 1 record left, got %d", len(all))
	}
}

// TestSyncTimes checks set/get roundtrip and the zero-time default.
func TestSyncTimes(t *testing.T) {
	s := openTestStore(t)

	if got, _ := s.SyncTime(ctx, record.ScopeAll); !got.IsZero() {
		t.Fatalf("never-synced key should read zero, got %v", got)
	}
	now := time.Now()
	if err := s.SetSyncTime(ctx, "North", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.SyncTime(ctx, "North")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("want %v, got %v", now, got)
	}
}

// TestClearCluster drops one cluster and leaves the others alone.
func TestClearCluster(t *testing.T) {
	s := openTestStore(t)

	_ = s.PutEmployees(ctx, []record.Employee{
		{ID: "e1", Cluster: "North"},
		{ID: "e2", Cluster: "South"},
	})
	rec := record.AttendanceRecord{Employee: true, MarkedBy: "u1", MarkedAt: time.Now()}
	_ = s.PutAttendance(ctx, "e1", &rec, "North")
	_ = s.PutAttendance(ctx, "e2", &rec, "South")
	_ = s.SetSyncTime(ctx, "North", time.Now())

	if err := s.ClearCluster(ctx, "North"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if north, _ := s.EmployeesByCluster(ctx, "North"); len(north) != 0 {
		t.Fatalf("North employees should be gone, got %d", len(north))
	}
	if rec, _ := s.AttendanceByCluster(ctx, "North"); len(rec) != 0 {
		t.Fatalf("North attendance should be gone, got %d", len(rec))
	}
	if ts, _ := s.SyncTime(ctx, "North"); !ts.IsZero() {
		t.Fatal("North sync time should be gone")
	}
	if south, _ := s.EmployeesByCluster(ctx, "South"); len(south) != 1 {
		t.Fatalf("South must be untouched, got %d", len(south))
	}
	if all, _ := s.AllAttendance(ctx); len(all) != 1 {
		t.Fatalf("want 1 attendance record left, got %d", len(all))
	}
}

// TestPersistedValues checks that values actually land in the file on disk
// (msgpack keeps string payloads verbatim, so the name is findable raw).
func TestPersistedValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	s, err := New(path, nil, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.PutEmployees(ctx, []record.Employee{{ID: "e1", Name: "Abena", Cluster: "North"}})
	_ = s.Close()

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	if !bytes.Contains(blob, []byte("Abena")) {
		t.Fatal("file does not contain the stored employee name")
	}
}

// TestWalks exercises the dump helpers.
func TestWalks(t *testing.T) {
	s := openTestStore(t)

	_ = s.PutEmployees(ctx, []record.Employee{
		{ID: "e1", Cluster: "North"},
		{ID: "e2", Cluster: "South"},
	})
	rec := record.AttendanceRecord{Employee: true, MarkedBy: "u1", MarkedAt: time.Now()}
	_ = s.PutAttendance(ctx, "e1", &rec, "North")
	_ = s.SetSyncTime(ctx, record.ScopeAll, time.Now())

	var employees, attendance, syncs int
	_ = s.WalkEmployees(func(record.Employee) bool { employees++; return true })
	_ = s.WalkAttendance(func(string, record.Cluster, record.AttendanceRecord) bool { attendance++; return true })
	_ = s.WalkSyncTimes(func(record.Scope, time.Time) bool { syncs++; return true })

	if employees != 2 || attendance != 1 || syncs != 1 {
		t.Fatalf("walk counts: employees=%d attendance=%d syncs=%d", employees, attendance, syncs)
	}
}
