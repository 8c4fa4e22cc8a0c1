package record

import (
	"errors"
	"time"
)

var (
	ErrEmptyID       = errors.New("employee id must not be empty")
	ErrEmptyMarkedBy = errors.New("markedBy must not be empty")
	ErrZeroMarkedAt  = errors.New("markedAt must be a valid point in time")
)

// Cluster is the partition tag of the dataset. Every employee belongs to
// exactly one cluster; records whose tag is not in the configured set are
// mapped to ClusterUnknown instead of being rejected.
type Cluster string

const ClusterUnknown Cluster = "Unknown"

// DefaultClusters is the compiled-in cluster set, overridable via config.
var DefaultClusters = []Cluster{"North", "South", "East", "West", "Central"}

// NormalizeCluster maps raw to a member of known, or ClusterUnknown.
func NormalizeCluster(known []Cluster, raw string) Cluster {
	for _, c := range known {
		if string(c) == raw {
			return c
		}
	}
	return ClusterUnknown
}

// Scope selects either a single cluster or the whole dataset. It doubles as
// the cache sync-time key and as the push-channel room key.
type Scope string

const ScopeAll Scope = "all"

func ClusterScope(c Cluster) Scope { return Scope(c) }

// Cluster returns the cluster a scope selects and false for ScopeAll.
func (s Scope) Cluster() (Cluster, bool) {
	if s == ScopeAll || s == "" {
		return "", false
	}
	return Cluster(s), true
}

func (s Scope) String() string { return string(s) }

// Employee is the primary record. Immutable from the engine's point of view
// except wholesale replacement from the remote store.
type Employee struct {
	ID         string  `json:"id" msgpack:"i"`
	Name       string  `json:"name" msgpack:"n"`
	Department string  `json:"department,omitempty" msgpack:"d,omitempty"`
	Cluster    Cluster `json:"cluster" msgpack:"c"`
}

func (e Employee) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// AttendanceRecord is the per-employee status record. An employee without one
// is "not yet recorded" -- a meaningful third state, never an error.
type AttendanceRecord struct {
	Employee bool `json:"employee" msgpack:"e"`
	Spouse   bool `json:"spouse" msgpack:"s"`
	Kid1     bool `json:"kid1" msgpack:"k1"`
	Kid2     bool `json:"kid2" msgpack:"k2"`
	Kid3     bool `json:"kid3" msgpack:"k3"`

	MarkedBy string    `json:"markedBy" msgpack:"b"`
	MarkedAt time.Time `json:"markedAt" msgpack:"t"`

	// KidNames maps the kid slot ("kid1".."kid3") to a display name.
	// Entries are optional and may be sparse.
	KidNames map[string]string `json:"kidNames,omitempty" msgpack:"kn,omitempty"`
}

func (r AttendanceRecord) Validate() error {
	if r.MarkedBy == "" {
		return ErrEmptyMarkedBy
	}
	if r.MarkedAt.IsZero() {
		return ErrZeroMarkedAt
	}
	return nil
}

// SanitizedKidNames returns a copy of KidNames with empty keys and values
// dropped, or nil if nothing remains. The transport rejects empty entries.
func (r AttendanceRecord) SanitizedKidNames() map[string]string {
	if len(r.KidNames) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.KidNames))
	for k, v := range r.KidNames {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PresentCount counts how many of the five present-flags are set.
func (r AttendanceRecord) PresentCount() int {
	n := 0
	for _, b := range []bool{r.Employee, r.Spouse, r.Kid1, r.Kid2, r.Kid3} {
		if b {
			n++
		}
	}
	return n
}

// Row is one entry of the joined employee+attendance view. Attendance is nil
// when no record exists for the employee.
type Row struct {
	Employee
	Attendance *AttendanceRecord `json:"attendance,omitempty"`
}

// Join left-joins employees with attendance records by employee id.
// It produces exactly one row per employee, in input order.
func Join(employees []Employee, attendance map[string]AttendanceRecord) []Row {
	rows := make([]Row, 0, len(employees))
	for _, e := range employees {
		row := Row{Employee: e}
		if rec, ok := attendance[e.ID]; ok {
			r := rec
			row.Attendance = &r
		}
		rows = append(rows, row)
	}
	return rows
}

// Stats is an aggregate computed server-side.
type Stats struct {
	Cluster   Cluster `json:"cluster,omitempty"`
	Employees int     `json:"employees"`
	Recorded  int     `json:"recorded"`
	Present   int     `json:"present"`
}
