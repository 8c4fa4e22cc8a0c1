package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rollcall-project/rollcall/internal/record"
)

// Store is the persistence contract of the local cache. Implementations live
// in the bbolt sub-package (durable) and in memory.go (fallback, tests).
type Store interface {
	PutEmployees(ctx context.Context, employees []record.Employee) error
	EmployeesByCluster(ctx context.Context, cluster record.Cluster) ([]record.Employee, error)
	AllEmployees(ctx context.Context) ([]record.Employee, error)

	// PutAttendance upserts the record for id; a nil rec deletes it (used to
	// purge entries the server confirmed absent).
	PutAttendance(ctx context.Context, id string, rec *record.AttendanceRecord, cluster record.Cluster) error
	AttendanceByCluster(ctx context.Context, cluster record.Cluster) (map[string]record.AttendanceRecord, error)
	AllAttendance(ctx context.Context) (map[string]record.AttendanceRecord, error)

	SetSyncTime(ctx context.Context, key record.Scope, t time.Time) error
	// SyncTime returns the zero time when the key was never synced.
	SyncTime(ctx context.Context, key record.Scope) (time.Time, error)

	ClearCluster(ctx context.Context, cluster record.Cluster) error
	ClearAll(ctx context.Context) error
	Close() error
}

// Cache wraps a lazily-opened Store and downgrades every storage failure to
// "no cached data" / "write ignored". The cache is a performance layer, never
// a correctness dependency: a miss is always recoverable from the remote.
//
// The backing store is opened on first use; concurrent first callers share the
// same one-time init. If opening fails, an in-memory store takes its place so
// the process keeps working (private data dir missing, read-only fs, ...).
type Cache struct {
	open func() (Store, error)
	log  zerolog.Logger

	once  sync.Once
	store Store
}

// New returns a Cache over the store produced by open. open runs at most
// once, on the first operation.
func New(log zerolog.Logger, open func() (Store, error)) *Cache {
	return &Cache{open: open, log: log}
}

// NewWithStore returns a Cache over an already-open store.
func NewWithStore(log zerolog.Logger, s Store) *Cache {
	c := &Cache{log: log}
	c.once.Do(func() { c.store = s })
	return c
}

func (c *Cache) backend() Store {
	c.once.Do(func() {
		s, err := c.open()
		if err != nil {
			c.log.Warn().Err(err).Msg("cache storage unavailable, falling back to memory")
			s = NewMemoryStore()
		}
		c.store = s
	})
	return c.store
}

func (c *Cache) PutEmployees(ctx context.Context, employees []record.Employee) {
	if err := c.backend().PutEmployees(ctx, employees); err != nil {
		c.log.Warn().Err(err).Int("count", len(employees)).Msg("cache write ignored")
	}
}

// Employees returns the cached employees for the scope; empty on miss or
// storage failure, never an error.
func (c *Cache) Employees(ctx context.Context, scope record.Scope) []record.Employee {
	var (
		employees []record.Employee
		err       error
	)
	if cluster, ok := scope.Cluster(); ok {
		employees, err = c.backend().EmployeesByCluster(ctx, cluster)
	} else {
		employees, err = c.backend().AllEmployees(ctx)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("scope", scope.String()).Msg("cache read failed, treating as miss")
		return nil
	}
	return employees
}

func (c *Cache) PutAttendance(ctx context.Context, id string, rec *record.AttendanceRecord, cluster record.Cluster) {
	if err := c.backend().PutAttendance(ctx, id, rec, cluster); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("cache write ignored")
	}
}

// Attendance returns the cached attendance records for the scope keyed by
// employee id; empty on miss or storage failure.
func (c *Cache) Attendance(ctx context.Context, scope record.Scope) map[string]record.AttendanceRecord {
	var (
		recs map[string]record.AttendanceRecord
		err  error
	)
	if cluster, ok := scope.Cluster(); ok {
		recs, err = c.backend().AttendanceByCluster(ctx, cluster)
	} else {
		recs, err = c.backend().AllAttendance(ctx)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("scope", scope.String()).Msg("cache read failed, treating as miss")
		return nil
	}
	return recs
}

// JoinedView left-joins cached employees with cached attendance for the
// scope. Employees without a record get a nil Attendance, never an error.
func (c *Cache) JoinedView(ctx context.Context, scope record.Scope) []record.Row {
	employees := c.Employees(ctx, scope)
	if len(employees) == 0 {
		return nil
	}
	return record.Join(employees, c.Attendance(ctx, scope))
}

func (c *Cache) SetSyncTime(ctx context.Context, key record.Scope, t time.Time) {
	if err := c.backend().SetSyncTime(ctx, key, t); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("cache write ignored")
	}
}

// SyncTime returns the last successful sync for key, or the zero time.
func (c *Cache) SyncTime(ctx context.Context, key record.Scope) time.Time {
	t, err := c.backend().SyncTime(ctx, key)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsFresh reports whether key was synced within maxAge. Losing sync metadata
// only degrades the staleness display, so failures read as "stale".
func (c *Cache) IsFresh(ctx context.Context, key record.Scope, maxAge time.Duration) bool {
	t := c.SyncTime(ctx, key)
	if t.IsZero() {
		return false
	}
	return time.Since(t) <= maxAge
}

func (c *Cache) ClearCluster(ctx context.Context, cluster record.Cluster) {
	if err := c.backend().ClearCluster(ctx, cluster); err != nil {
		c.log.Warn().Err(err).Str("cluster", string(cluster)).Msg("cache clear failed")
	}
}

func (c *Cache) ClearAll(ctx context.Context) {
	if err := c.backend().ClearAll(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache clear failed")
	}
}

func (c *Cache) Close() error {
	return c.backend().Close()
}
