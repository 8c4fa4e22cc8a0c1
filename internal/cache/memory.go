package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rollcall-project/rollcall/internal/record"
)

// MemoryStore is a map-backed Store. It serves as the fallback when the
// durable store cannot be opened and as a fixture in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	employees  map[string]record.Employee // id -> employee
	attendance map[string]memAttendance   // id -> record+cluster
	syncTimes  map[record.Scope]time.Time
}

type memAttendance struct {
	rec     record.AttendanceRecord
	cluster record.Cluster
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		employees:  make(map[string]record.Employee),
		attendance: make(map[string]memAttendance),
		syncTimes:  make(map[record.Scope]time.Time),
	}
}

func (m *MemoryStore) PutEmployees(_ context.Context, employees []record.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range employees {
		if e.ID == "" {
			continue
		}
		m.employees[e.ID] = e
	}
	return nil
}

func (m *MemoryStore) EmployeesByCluster(_ context.Context, cluster record.Cluster) ([]record.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []record.Employee
	for _, e := range m.employees {
		if e.Cluster == cluster {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) AllEmployees(_ context.Context) ([]record.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]record.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) PutAttendance(_ context.Context, id string, rec *record.AttendanceRecord, cluster record.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec == nil {
		delete(m.attendance, id)
		return nil
	}
	m.attendance[id] = memAttendance{rec: *rec, cluster: cluster}
	return nil
}

func (m *MemoryStore) AttendanceByCluster(_ context.Context, cluster record.Cluster) (map[string]record.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]record.AttendanceRecord)
	for id, a := range m.attendance {
		if a.cluster == cluster {
			out[id] = a.rec
		}
	}
	return out, nil
}

func (m *MemoryStore) AllAttendance(_ context.Context) (map[string]record.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]record.AttendanceRecord, len(m.attendance))
	for id, a := range m.attendance {
		out[id] = a.rec
	}
	return out, nil
}

func (m *MemoryStore) SetSyncTime(_ context.Context, key record.Scope, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncTimes[key] = t
	return nil
}

func (m *MemoryStore) SyncTime(_ context.Context, key record.Scope) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncTimes[key], nil
}

func (m *MemoryStore) ClearCluster(_ context.Context, cluster record.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.employees {
		if e.Cluster == cluster {
			delete(m.employees, id)
		}
	}
	for id, a := range m.attendance {
		if a.cluster == cluster {
			delete(m.attendance, id)
		}
	}
	delete(m.syncTimes, record.ClusterScope(cluster))
	return nil
}

func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees = make(map[string]record.Employee)
	m.attendance = make(map[string]memAttendance)
	m.syncTimes = make(map[record.Scope]time.Time)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
