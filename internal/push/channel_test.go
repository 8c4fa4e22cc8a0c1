package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/rollcall-project/rollcall/internal/record"
)

const testKey = "secret"

// pushServer is a minimal in-process push endpoint: auth handshake, room
// bookkeeping, and a way for tests to inject events and kill connections.
type pushServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	sessions []*session

	// joined receives every subscribe message any session sees, including
	// the re-joins after a reconnect.
	joined chan record.Scope
}

type session struct {
	conn  *websocket.Conn
	rooms map[record.Scope]bool
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{joined: make(chan record.Scope, 32)}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()

		var auth message
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		if auth.Type != TypeAuth || auth.APIKey != testKey {
			_ = wsjson.Write(ctx, conn, message{Type: TypeError, Message: "bad credentials"})
			_ = conn.Close(websocket.StatusPolicyViolation, "bad credentials")
			return
		}
		_ = wsjson.Write(ctx, conn, message{Type: TypeWelcome})

		s := &session{conn: conn, rooms: make(map[record.Scope]bool)}
		ps.mu.Lock()
		ps.sessions = append(ps.sessions, s)
		ps.mu.Unlock()

		for {
			var m message
			if err := wsjson.Read(ctx, conn, &m); err != nil {
				return
			}
			ps.mu.Lock()
			switch m.Type {
			case TypeSubscribeCluster:
				s.rooms[record.ClusterScope(m.Cluster)] = true
				ps.joined <- record.ClusterScope(m.Cluster)
			case TypeUnsubscribeCluster:
				delete(s.rooms, record.ClusterScope(m.Cluster))
			case TypeSubscribeAll:
				s.rooms[record.ScopeAll] = true
				ps.joined <- record.ScopeAll
			case TypeUnsubscribeAll:
				delete(s.rooms, record.ScopeAll)
			}
			ps.mu.Unlock()
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

// push sends an attendanceChanged event down every live session.
func (ps *pushServer) push(ev Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, s := range ps.sessions {
		_ = wsjson.Write(context.Background(), s.conn, message{
			Type: TypeAttendanceChanged, ID: ev.ID, Cluster: ev.Cluster,
		})
	}
}

// dropConnections kills every live session server-side, forcing the client
// into its reconnect loop.
func (ps *pushServer) dropConnections() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, s := range ps.sessions {
		_ = s.conn.Close(websocket.StatusGoingAway, "kicked")
	}
	ps.sessions = nil
}

func awaitJoin(t *testing.T, ps *pushServer, want record.Scope) {
	t.Helper()
	select {
	case got := <-ps.joined:
		if got != want {
			t.Fatalf("joined %s, want %s", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("room %s never joined", want)
	}
}

// TestConnectJoinReceive is the happy path over the wire: handshake, join,
// one event delivered to the room handler.
func TestConnectJoinReceive(t *testing.T) {
	ps := newPushServer(t)
	c := New(Config{URL: ps.url(), APIKey: testKey}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	events := make(chan Event, 4)
	if err := c.Join(context.Background(), "North", func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("join: %v", err)
	}
	awaitJoin(t, ps, "North")

	ps.push(Event{ID: "e1", Cluster: "North"})
	select {
	case ev := <-events:
		if ev.ID != "e1" || ev.Cluster != "North" {
			t.Fatalf("wrong event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered")
	}
}

// TestAuthRejected: a bad key fails the handshake, no connection survives.
func TestAuthRejected(t *testing.T) {
	ps := newPushServer(t)
	c := New(Config{URL: ps.url(), APIKey: "wrong"}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("want handshake failure")
	}
}

// TestJoinBeforeConnect: memberships registered while offline are asserted
// on the wire as soon as the connection comes up.
func TestJoinBeforeConnect(t *testing.T) {
	ps := newPushServer(t)
	c := New(Config{URL: ps.url(), APIKey: testKey}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	if err := c.Join(context.Background(), "North", func(Event) {}); err != nil {
		t.Fatalf("offline join should be recorded, got %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	awaitJoin(t, ps, "North")
}

// TestReconnectRejoins: after a server-side drop the channel reconnects on
// its own and re-asserts the room, and events flow again.
func TestReconnectRejoins(t *testing.T) {
	ps := newPushServer(t)
	c := New(Config{URL: ps.url(), APIKey: testKey}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	events := make(chan Event, 4)
	if err := c.Join(context.Background(), "North", func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("join: %v", err)
	}
	awaitJoin(t, ps, "North")

	ps.dropConnections()
	awaitJoin(t, ps, "North") // the re-join after reconnect

	ps.push(Event{ID: "e2", Cluster: "North"})
	select {
	case ev := <-events:
		if ev.ID != "e2" {
			t.Fatalf("wrong event after reconnect: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered after reconnect")
	}
}

// TestReconfigureMovesServers: Reconfigure reconnects against the new
// endpoint and re-joins the rooms there.
func TestReconfigureMovesServers(t *testing.T) {
	first := newPushServer(t)
	second := newPushServer(t)
	c := New(Config{URL: first.url(), APIKey: testKey}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	events := make(chan Event, 4)
	if err := c.Join(context.Background(), "North", func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("join: %v", err)
	}
	awaitJoin(t, first, "North")

	if err := c.Reconfigure(context.Background(), Config{URL: second.url(), APIKey: testKey}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	awaitJoin(t, second, "North")

	second.push(Event{ID: "e3", Cluster: "North"})
	select {
	case ev := <-events:
		if ev.ID != "e3" {
			t.Fatalf("wrong event from new server: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered from the new server")
	}
}

// TestConcurrentConnectSingleConnection: racing Connect calls may both dial,
// but only one connection survives; the displaced one must be closed so it
// cannot keep delivering duplicate events.
func TestConcurrentConnectSingleConnection(t *testing.T) {
	ps := newPushServer(t)
	c := New(Config{URL: ps.url(), APIKey: testKey}, zerolog.Nop())
	defer func() { _ = c.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Connect(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()

	events := make(chan Event, 8)
	if err := c.Join(context.Background(), "North", func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("join: %v", err)
	}
	awaitJoin(t, ps, "North")

	ps.push(Event{ID: "e1", Cluster: "North"})
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered")
	}
	select {
	case ev := <-events:
		t.Fatalf("duplicate delivery %+v, a displaced connection is still alive", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestDispatch covers the routing table without a wire: cluster events reach
// the cluster room and the "all" room; broadcasts reach every room.
func TestDispatch(t *testing.T) {
	c := New(Config{}, zerolog.Nop())

	var north, south, all []Event
	c.handlers["North"] = func(ev Event) { north = append(north, ev) }
	c.handlers["South"] = func(ev Event) { south = append(south, ev) }
	c.handlers[record.ScopeAll] = func(ev Event) { all = append(all, ev) }

	c.dispatch(Event{ID: "e1", Cluster: "North"})
	if len(north) != 1 || len(south) != 0 || len(all) != 1 {
		t.Fatalf("cluster event misrouted: north=%d south=%d all=%d", len(north), len(south), len(all))
	}

	c.dispatch(Event{ID: "e2"}) // broadcast
	if len(north) != 2 || len(south) != 1 || len(all) != 2 {
		t.Fatalf("broadcast misrouted: north=%d south=%d all=%d", len(north), len(south), len(all))
	}
}

// TestClosedChannel: operations after Close fail fast with ErrClosed.
func TestClosedChannel(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", APIKey: testKey}, zerolog.Nop())
	_ = c.Close()

	if err := c.Join(context.Background(), "North", func(Event) {}); err != ErrClosed {
		t.Fatalf("want ErrClosed from Join, got %v", err)
	}
	if err := c.Leave(context.Background(), "North"); err != ErrClosed {
		t.Fatalf("want ErrClosed from Leave, got %v", err)
	}
	if err := c.Connect(context.Background()); err != ErrClosed {
		t.Fatalf("want ErrClosed from Connect, got %v", err)
	}
}
