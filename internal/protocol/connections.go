package protocol

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink delivers a server-initiated event to one connection.
type Sink interface {
	Emit(event string, v ...interface{})
}

// ConnectionContext is what the server knows about a connection. Username and
// SessionID are empty until the connection creates or joins a session.
type ConnectionContext struct {
	ConnID    string
	Username  string
	SessionID string
}

func (c ConnectionContext) Bound() bool { return c.SessionID != "" }

type connection struct {
	sink Sink
	ctx  ConnectionContext
}

// Connections binds live connections to sessions and fans broadcasts out to them.
// It implements game.Notifier.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[string]*connection)}
}

func (c *Connections) Add(id string, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = &connection{sink: sink, ctx: ConnectionContext{ConnID: id}}
}

// Remove forgets a connection and returns its last context.
func (c *Connections) Remove(id string) (ConnectionContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[id]
	if !ok {
		return ConnectionContext{}, false
	}
	delete(c.conns, id)
	return conn.ctx, true
}

func (c *Connections) Context(id string) (ConnectionContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	if !ok {
		return ConnectionContext{}, false
	}
	return conn.ctx, true
}

// Bind attaches a connection to sessionID as username. Unknown connections are ignored.
func (c *Connections) Bind(id, sessionID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[id]; ok {
		conn.ctx.SessionID = sessionID
		conn.ctx.Username = username
	}
}

func (c *Connections) Unbind(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[id]; ok {
		conn.ctx.SessionID = ""
		conn.ctx.Username = ""
	}
}

// UnbindSession detaches every connection bound to sessionID.
func (c *Connections) UnbindSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		if conn.ctx.SessionID == sessionID {
			conn.ctx.SessionID = ""
			conn.ctx.Username = ""
		}
	}
}

// Broadcast emits event to every connection bound to sessionID.
func (c *Connections) Broadcast(sessionID, event string, payload any) {
	sinks := c.sinks(func(ctx ConnectionContext) bool { return ctx.SessionID == sessionID })
	log.Debug().Str("session", sessionID).Str("event", event).Int("receivers", len(sinks)).Msg("broadcast")
	for _, s := range sinks {
		s.Emit(event, payload)
	}
}

// EmitTo emits event to a single connection and reports whether it exists.
func (c *Connections) EmitTo(id, event string, payload any) bool {
	c.mu.RLock()
	conn, ok := c.conns[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	conn.sink.Emit(event, payload)
	return true
}

// EmitAll emits event to every connection, bound or not.
func (c *Connections) EmitAll(event string, payload any) {
	sinks := c.sinks(func(ConnectionContext) bool { return true })
	log.Debug().Str("event", event).Int("receivers", len(sinks)).Msg("broadcast to all")
	for _, s := range sinks {
		s.Emit(event, payload)
	}
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

func (c *Connections) sinks(match func(ConnectionContext) bool) []Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sink, 0, len(c.conns))
	for _, conn := range c.conns {
		if match(conn.ctx) {
			out = append(out, conn.sink)
		}
	}
	return out
}
