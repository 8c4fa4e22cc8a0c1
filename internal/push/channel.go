// Package push maintains the persistent connection that delivers
// "attendance changed" notifications. It multiplexes any number of logical
// room memberships (one per cluster, or "all") onto a single WebSocket and
// re-asserts them after every reconnect, so a network blip never silently
// drops future events.
package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/rollcall-project/rollcall/internal/record"
)

const (
	connectTimeout    = 10 * time.Second
	maxReconnectDelay = 30 * time.Second

	defaultMaxReconnects = 16
)

// ErrClosed is returned by Join / Leave after Close has been called.
var ErrClosed = errors.New("push: channel has been closed")

// Config is the runtime-changeable part of the channel.
type Config struct {
	URL    string
	APIKey string
}

// Event is an inbound status-change notification. An empty Cluster means the
// event is unscoped (broadcast).
type Event struct {
	ID      string
	Cluster record.Cluster
}

// Handler receives events for one room key. It MUST be fast and
// non-blocking; move expensive work to a goroutine.
type Handler func(Event)

// Option configures a Channel.
type Option func(*Channel)

// WithMaxReconnects bounds the reconnect loop after a connection drop.
func WithMaxReconnects(n uint64) Option {
	return func(c *Channel) { c.maxReconnects = n }
}

// Channel is the physical push connection. At most one handler is registered
// per room key; fanning one room out to many listeners is the multiplexer's
// job, not the channel's.
type Channel struct {
	log           zerolog.Logger
	clientID      string
	maxReconnects uint64

	mu       sync.Mutex
	cfg      Config
	conn     *websocket.Conn
	gen      uint64 // connection generation; stale read loops exit quietly
	handlers map[record.Scope]Handler
	rooms    map[record.Scope]struct{} // desired membership, re-asserted on (re)connect
	closed   bool

	writeMu sync.Mutex
}

func New(cfg Config, log zerolog.Logger, opts ...Option) *Channel {
	c := &Channel{
		log:           log,
		clientID:      uuid.NewString(),
		maxReconnects: defaultMaxReconnects,
		cfg:           cfg,
		handlers:      make(map[record.Scope]Handler),
		rooms:         make(map[record.Scope]struct{}),
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Connect dials the push endpoint, performs the auth handshake and starts
// the read loop. Rooms registered before Connect are joined immediately.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	cfg := c.cfg
	c.mu.Unlock()

	conn, err := c.dial(ctx, cfg)
	if err != nil {
		return err
	}
	return c.adopt(conn)
}

// Reconfigure atomically tears the connection down and reconnects with the
// new endpoint and credentials, re-joining every registered room. It returns
// once reconnected or failed.
func (c *Channel) Reconfigure(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cfg = cfg
	old := c.conn
	c.conn = nil
	c.gen++ // invalidates the old read loop
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "reconfigure")
	}
	conn, err := c.dial(ctx, cfg)
	if err != nil {
		return err
	}
	return c.adopt(conn)
}

// Close shuts the channel down for good; no reconnect is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}

// Join registers the handler for the room key and asserts membership. While
// disconnected the membership is only recorded; the next (re)connect asserts
// it on the wire.
func (c *Channel) Join(ctx context.Context, scope record.Scope, h Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.handlers[scope] = h
	c.rooms[scope] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Debug().Str("room", scope.String()).Msg("not connected, join deferred")
		return nil
	}
	return c.send(ctx, conn, joinMessage(scope))
}

// Leave deregisters the room's handler and, when connected, notifies the
// server.
func (c *Channel) Leave(ctx context.Context, scope record.Scope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	delete(c.handlers, scope)
	delete(c.rooms, scope)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(ctx, conn, leaveMessage(scope))
}

// dial establishes the WebSocket and runs the auth handshake.
func (c *Channel) dial(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("X-API-Key", cfg.APIKey)
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	auth := message{Type: TypeAuth, APIKey: cfg.APIKey, ClientID: c.clientID}
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth write failed")
		return nil, err
	}
	var reply message
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth read failed")
		return nil, err
	}
	if reply.Type != TypeWelcome {
		_ = conn.Close(websocket.StatusPolicyViolation, "auth rejected")
		return nil, errors.New("push: auth rejected: " + reply.Message)
	}
	return conn, nil
}

// adopt installs conn as the live connection, re-joins every registered room
// and starts the read loop. A connection it displaces (two racing Connect
// calls both dialing) is closed; its read loop carries a stale generation
// and exits without reconnecting.
func (c *Channel) adopt(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closed during connect")
		return ErrClosed
	}
	displaced := c.conn
	c.conn = conn
	c.gen++
	gen := c.gen
	rooms := make([]record.Scope, 0, len(c.rooms))
	for scope := range c.rooms {
		rooms = append(rooms, scope)
	}
	c.mu.Unlock()

	if displaced != nil {
		_ = displaced.Close(websocket.StatusNormalClosure, "superseded")
	}

	for _, scope := range rooms {
		if err := c.send(context.Background(), conn, joinMessage(scope)); err != nil {
			c.log.Error().Err(err).Str("room", scope.String()).Msg("failed to re-join room")
		}
	}
	go c.readLoop(conn, gen)
	return nil
}

func (c *Channel) send(ctx context.Context, conn *websocket.Conn, m message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, m)
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		var m message
		if err := wsjson.Read(context.Background(), conn, &m); err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		switch m.Type {
		case TypeAttendanceChanged:
			c.dispatch(Event{ID: m.ID, Cluster: m.Cluster})
		case TypeError:
			// logical server error (bad room name, ...): not fatal to the session
			c.log.Warn().Str("message", m.Message).Msg("push channel server error")
		default:
			c.log.Debug().Str("type", m.Type).Msg("ignoring unexpected push message")
		}
	}
}

// dispatch routes an event to the room handlers it concerns: the event's own
// cluster room, the "all" room, or every room for an unscoped broadcast.
// Handlers run on the read loop, so they must hand off real work.
func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	var targets []Handler
	if ev.Cluster == "" {
		for _, h := range c.handlers {
			targets = append(targets, h)
		}
	} else {
		if h, ok := c.handlers[record.ClusterScope(ev.Cluster)]; ok {
			targets = append(targets, h)
		}
		if h, ok := c.handlers[record.ScopeAll]; ok {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// handleDisconnect runs the bounded reconnect loop. Only the read loop of
// the current generation gets to reconnect; superseded loops exit quietly.
func (c *Channel) handleDisconnect(gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.gen++
	cfg := c.cfg
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("push channel disconnected, reconnecting")

	var conn *websocket.Conn
	attempt := func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return backoff.Permanent(ErrClosed)
		}
		cfg = c.cfg
		c.mu.Unlock()

		var err error
		conn, err = c.dial(context.Background(), cfg)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectDelay
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(attempt, backoff.WithMaxRetries(bo, c.maxReconnects)); err != nil {
		c.log.Error().Err(err).Msg("push channel reconnect failed, giving up")
		return
	}
	if err := c.adopt(conn); err != nil {
		c.log.Error().Err(err).Msg("push channel reconnect aborted")
	}
}
