// Package service implements the stale-while-revalidate coordinator: the
// piece that reconciles the local cache, the remote store and forced
// refreshes triggered by push events.
//
// The read path is cache-first. A query returns the cached view immediately
// when one exists and revalidates against the remote in the background;
// fresh data is written back to the cache and handed to the caller through
// an OnFresh callback. Only when the cache is empty does the caller wait for
// the network -- and only then can a remote failure surface as an error.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rollcall-project/rollcall/internal/cache"
	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/util"
)

// Gateway is the remote side the coordinator revalidates against.
// *gateway.Client satisfies it; tests substitute fakes.
type Gateway interface {
	Employees(ctx context.Context, scope record.Scope) ([]record.Employee, error)
	Attendance(ctx context.Context, scope record.Scope) (map[string]record.AttendanceRecord, error)
	AttendanceForIDs(ctx context.Context, ids []string) (map[string]record.AttendanceRecord, error)
	SaveAttendance(ctx context.Context, id string, rec record.AttendanceRecord, cluster record.Cluster) error
	ClusterStats(ctx context.Context, cluster record.Cluster) (record.Stats, error)
	OverallStats(ctx context.Context) (record.Stats, error)
}

// QueryOptions tune one Roster call.
type QueryOptions struct {
	// ForceRefresh bypasses the cache read: always fetch, and treat the
	// network result as both return value and OnFresh payload.
	ForceRefresh bool
	// OnFresh receives the merged result of the network fetch once it
	// lands. Invoked at most once per call, never after a fetch failure.
	OnFresh func([]record.Row)
	// OnError receives a background revalidation failure. The cached rows
	// already returned remain the last known good view.
	OnError func(error)
}

type Service struct {
	cache *cache.Cache
	gw    Gateway
	log   zerolog.Logger

	// group collapses concurrent fetches for the same scope into one
	// remote round trip. It does NOT order responses across calls: the
	// last network response to arrive wins the cache write. That can
	// apply an older response over a newer one when two fetches race;
	// accepted as-is, a sequence number would be needed to do better.
	group singleflight.Group
}

func New(c *cache.Cache, gw Gateway, log zerolog.Logger) *Service {
	return &Service{cache: c, gw: gw, log: log}
}

// Roster returns the joined employee+attendance view for the scope.
//
// cached reports where the rows came from: true means they were served from
// the local cache and a background revalidation is in flight; false means
// they are the network result. An error is returned only when there was no
// cached fallback and the remote fetch failed.
func (s *Service) Roster(ctx context.Context, scope record.Scope, opts QueryOptions) (rows []record.Row, cached bool, err error) {
	if !opts.ForceRefresh {
		if rows := s.cache.JoinedView(ctx, scope); len(rows) > 0 {
			go s.revalidate(scope, opts)
			return rows, true, nil
		}
	}
	rows, err = s.refresh(ctx, scope)
	if err != nil {
		return nil, false, err
	}
	if opts.OnFresh != nil {
		opts.OnFresh(rows)
	}
	return rows, false, nil
}

// revalidate is the fire-and-forget half of the stale-while-revalidate
// cycle. It deliberately does not inherit the caller's context: the caller
// already has its answer, and the fetch is bounded by the gateway's retry
// budget.
func (s *Service) revalidate(scope record.Scope, opts QueryOptions) {
	rows, err := s.refresh(context.Background(), scope)
	if err != nil {
		s.log.Warn().Err(err).Str("scope", scope.String()).Msg("background revalidation failed, keeping cached view")
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return
	}
	if opts.OnFresh != nil {
		opts.OnFresh(rows)
	}
}

// refresh fetches employees and attendance for the scope (one round trip
// each, never per-entity), writes both back to the cache and returns the
// joined view.
func (s *Service) refresh(ctx context.Context, scope record.Scope) ([]record.Row, error) {
	v, err, _ := s.group.Do("roster:"+scope.String(), func() (any, error) {
		employees, err := s.gw.Employees(ctx, scope)
		if err != nil {
			return nil, err
		}
		attendance, err := s.gw.Attendance(ctx, scope)
		if err != nil {
			return nil, err
		}
		s.storeResult(ctx, scope, employees, attendance)
		return record.Join(employees, attendance), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]record.Row), nil
}

// RefreshAttendance is the push-event path: a forced, status-only refresh.
// Employees stay cached; their records are batch-fetched by id. Records the
// server no longer has are purged from the cache. When no employees are
// cached yet (first event before any roster load) it degrades to a full
// refresh.
func (s *Service) RefreshAttendance(ctx context.Context, scope record.Scope) ([]record.Row, error) {
	employees := s.cache.Employees(ctx, scope)
	if len(employees) == 0 {
		return s.refresh(ctx, scope)
	}
	v, err, _ := s.group.Do("attendance:"+scope.String(), func() (any, error) {
		ids := make([]string, len(employees))
		clusterOf := make(map[string]record.Cluster, len(employees))
		for i, e := range employees {
			ids[i] = e.ID
			clusterOf[e.ID] = e.Cluster
		}
		attendance, err := s.gw.AttendanceForIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, rec := range attendance {
			s.cache.PutAttendance(ctx, id, util.Ptr(rec), clusterOf[id])
		}
		// server-confirmed absence: purge
		for id := range s.cache.Attendance(ctx, scope) {
			if _, ok := attendance[id]; !ok {
				s.cache.PutAttendance(ctx, id, nil, clusterOf[id])
			}
		}
		s.cache.SetSyncTime(ctx, scope, time.Now())
		return record.Join(employees, attendance), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]record.Row), nil
}

// storeResult writes a full fetch back to the cache, last write wins.
func (s *Service) storeResult(ctx context.Context, scope record.Scope, employees []record.Employee, attendance map[string]record.AttendanceRecord) {
	s.cache.PutEmployees(ctx, employees)

	clusterOf := make(map[string]record.Cluster, len(employees))
	for _, e := range employees {
		clusterOf[e.ID] = e.Cluster
	}
	for id, rec := range attendance {
		s.cache.PutAttendance(ctx, id, util.Ptr(rec), clusterOf[id])
	}
	for id := range s.cache.Attendance(ctx, scope) {
		if _, ok := attendance[id]; !ok {
			s.cache.PutAttendance(ctx, id, nil, clusterOf[id])
		}
	}
	s.cache.SetSyncTime(ctx, scope, time.Now())
}

// SaveAttendance persists the record remotely (merge semantics), then
// write-through to the local cache so the view converges before the next
// push event arrives. MarkedAt is stamped when the caller left it zero.
func (s *Service) SaveAttendance(ctx context.Context, id string, rec record.AttendanceRecord, cluster record.Cluster) error {
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.gw.SaveAttendance(ctx, id, rec, cluster); err != nil {
		return err
	}
	s.cache.PutAttendance(ctx, id, &rec, cluster)
	return nil
}

// Stats proxies the server-side aggregates.
func (s *Service) Stats(ctx context.Context, scope record.Scope) (record.Stats, error) {
	if cluster, ok := scope.Cluster(); ok {
		return s.gw.ClusterStats(ctx, cluster)
	}
	return s.gw.OverallStats(ctx)
}

// LastSync returns the last successful sync time for the scope, zero when
// never synced. Informational only; losing it degrades the staleness label,
// never correctness.
func (s *Service) LastSync(ctx context.Context, scope record.Scope) time.Time {
	return s.cache.SyncTime(ctx, scope)
}
