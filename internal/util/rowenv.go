package util

import (
	"github.com/rollcall-project/rollcall/internal/record"
)

// RowEnv is the expression environment for `watch --filter`. Each predicate
// is evaluated against one joined employee+attendance row.
type RowEnv struct {
	Row record.Row
}

func (e RowEnv) All() bool {
	return true
}

func (e RowEnv) None() bool {
	return false
}

func (e RowEnv) Clusters(vals ...string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, val := range vals {
		if val == string(e.Row.Cluster) {
			return true
		}
	}
	return false
}

func (e RowEnv) Cluster(vals ...string) bool {
	return e.Clusters(vals...)
}

func (e RowEnv) Names(vals ...string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, val := range vals {
		if val == e.Row.Name {
			return true
		}
	}
	return false
}

func (e RowEnv) Name(vals ...string) bool {
	return e.Names(vals...)
}

func (e RowEnv) Department(vals ...string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, val := range vals {
		if val == e.Row.Department {
			return true
		}
	}
	return false
}

// Recorded is true when an attendance record exists for the row.
func (e RowEnv) Recorded() bool {
	return e.Row.Attendance != nil
}

// Present is true when the employee themselves is marked present.
func (e RowEnv) Present() bool {
	return e.Row.Attendance != nil && e.Row.Attendance.Employee
}

// MarkedBy matches the recorder of the attendance record.
func (e RowEnv) MarkedBy(vals ...string) bool {
	if e.Row.Attendance == nil {
		return false
	}
	if len(vals) == 0 {
		return true
	}
	for _, val := range vals {
		if val == e.Row.Attendance.MarkedBy {
			return true
		}
	}
	return false
}
