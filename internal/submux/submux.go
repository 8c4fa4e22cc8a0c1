// Package submux deduplicates logical subscribers onto physical push-channel
// rooms. Any number of listeners may watch the same scope; the room is
// joined once, one push handler is registered, and every refresh fans out to
// all of them. Teardown is reference-counted: the physical membership never
// outlives the last logical listener.
package submux

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rollcall-project/rollcall/internal/push"
	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/service"
	"github.com/rollcall-project/rollcall/pkg/fanout"
)

// ErrClosed is returned by Subscribe after Close() has been called.
var ErrClosed = errors.New("submux: mux has been closed")

// Coordinator is the query side the mux snapshots and refreshes through.
// *service.Service satisfies it.
type Coordinator interface {
	Roster(ctx context.Context, scope record.Scope, opts service.QueryOptions) ([]record.Row, bool, error)
	RefreshAttendance(ctx context.Context, scope record.Scope) ([]record.Row, error)
}

// Rooms is the physical room membership side. *push.Channel satisfies it.
type Rooms interface {
	Join(ctx context.Context, scope record.Scope, h push.Handler) error
	Leave(ctx context.Context, scope record.Scope) error
}

// Subscriber is one logical listener: rows on success, errors otherwise.
// Fetch failures are reported here, never thrown into the channel's read
// loop. Either callback may be nil.
type Subscriber struct {
	OnRows  func([]record.Row)
	OnError func(error)
}

type Mux struct {
	coord Coordinator
	rooms Rooms
	log   zerolog.Logger

	// mutex orders every mutation of per-key state; subscribe/unsubscribe
	// never hold it across a blocking call.
	mutex  sync.Mutex
	reg    *fanout.Registry[record.Scope, Subscriber]
	joined map[record.Scope]struct{} // scopes whose room membership is wanted
	closed bool
}

func New(coord Coordinator, rooms Rooms, log zerolog.Logger) *Mux {
	return &Mux{
		coord:  coord,
		rooms:  rooms,
		log:    log,
		reg:    fanout.New[record.Scope, Subscriber](),
		joined: make(map[record.Scope]struct{}),
	}
}

// Subscribe registers sub under scope and returns its unsubscribe function.
//
// The first registration for a scope joins the channel room and registers
// exactly one push handler; while that join is still in flight, further
// registrations attach to it instead of joining again. Every registration,
// first or not, gets an immediate fetch-and-deliver snapshot.
func (m *Mux) Subscribe(ctx context.Context, scope record.Scope, sub Subscriber) (func(), error) {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil, ErrClosed
	}
	h, first := m.reg.Add(scope, sub)
	if first {
		m.joined[scope] = struct{}{}
	}
	m.mutex.Unlock()

	if first {
		go m.join(scope)
	}
	go m.snapshot(ctx, scope, h)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mutex.Lock()
			last := m.reg.Remove(scope, h)
			if last {
				delete(m.joined, scope)
			}
			closed := m.closed
			m.mutex.Unlock()
			if last && !closed {
				go m.leave(scope)
			}
		})
	}
	return cancel, nil
}

// Close leaves every room and rejects further subscriptions.
func (m *Mux) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	scopes := make([]record.Scope, 0, len(m.joined))
	for scope := range m.joined {
		scopes = append(scopes, scope)
	}
	m.joined = make(map[record.Scope]struct{})
	m.mutex.Unlock()

	for _, scope := range scopes {
		m.leave(scope)
	}
}

// join asserts room membership for scope and registers the push handler.
func (m *Mux) join(scope record.Scope) {
	err := m.rooms.Join(context.Background(), scope, m.handler(scope))

	m.mutex.Lock()
	_, wanted := m.joined[scope]
	m.mutex.Unlock()

	if !wanted {
		// every subscriber left while the join was in flight; undo it
		if err == nil {
			go m.leave(scope)
		}
		return
	}
	if err != nil {
		// membership desire is recorded channel-side and re-asserted on
		// reconnect, so this is reported but not retried here
		m.log.Warn().Err(err).Str("room", scope.String()).Msg("room join failed")
		m.fanError(scope, err)
	}
}

func (m *Mux) leave(scope record.Scope) {
	if err := m.rooms.Leave(context.Background(), scope); err != nil {
		m.log.Warn().Err(err).Str("room", scope.String()).Msg("room leave failed")
	}
}

// handler builds the single push handler for a scope. The channel invokes it
// on its read loop, so all real work is handed off.
func (m *Mux) handler(scope record.Scope) push.Handler {
	return func(ev push.Event) {
		m.log.Debug().Str("room", scope.String()).Str("id", ev.ID).Msg("push event, refreshing")
		go m.deliver(scope)
	}
}

// deliver force-refreshes the scope's attendance and fans the merged result
// out to every currently-registered subscriber -- not just whoever was first.
// The subscriber snapshot is taken after the refresh: a listener torn down
// in the meantime receives nothing, though the cache write still happened
// (harmless).
func (m *Mux) deliver(scope record.Scope) {
	rows, err := m.coord.RefreshAttendance(context.Background(), scope)
	if err != nil {
		m.log.Warn().Err(err).Str("room", scope.String()).Msg("push-triggered refresh failed")
		m.fanError(scope, err)
		return
	}
	for _, sub := range m.reg.Values(scope) {
		if sub.OnRows != nil {
			sub.OnRows(rows)
		}
	}
}

// snapshot runs the immediate fetch-and-deliver cycle for one new
// subscriber. A cached result is delivered right away with the fresh copy
// following via OnFresh; a network-only result is delivered exactly once.
// Every delivery re-checks the registry first: the background revalidation
// can outlive the subscription, and a torn-down listener gets nothing.
func (m *Mux) snapshot(ctx context.Context, scope record.Scope, h *fanout.Handle[Subscriber]) {
	sub := h.Value()
	deliverRows := func(rows []record.Row) {
		if sub.OnRows != nil && m.reg.Contains(scope, h) {
			sub.OnRows(rows)
		}
	}
	deliverErr := func(err error) {
		if sub.OnError != nil && m.reg.Contains(scope, h) {
			sub.OnError(err)
		}
	}

	rows, cached, err := m.coord.Roster(ctx, scope, service.QueryOptions{
		OnFresh: deliverRows,
		OnError: deliverErr,
	})
	if err != nil {
		deliverErr(err)
		return
	}
	if cached {
		// the network copy follows through OnFresh
		deliverRows(rows)
	}
}

func (m *Mux) fanError(scope record.Scope, err error) {
	for _, sub := range m.reg.Values(scope) {
		if sub.OnError != nil {
			sub.OnError(err)
		}
	}
}
