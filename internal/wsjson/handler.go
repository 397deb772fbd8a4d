// Package wsjson serves the call protocol over plain WebSocket text frames.
//
// Client frames look like {"id":"7","event":"session:join","data":{...}}. Every
// frame is answered with {"id":"7","event":"ack","data":<response envelope>}.
// Broadcasts arrive as {"event":"game:started","data":{...}} without an id.
// A connection's calls run one at a time in the order they were sent. A frame that
// is not JSON cannot be correlated and gets an "error" event instead of an ack.
package wsjson

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/kiliankoe/geotrivia/internal/protocol"
	"github.com/rs/zerolog/log"
)

// EventAck marks a reply frame.
const EventAck = "ack"

const (
	sendBuffer     = 64
	callQueue      = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

type inFrame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Handler struct {
	d        *protocol.Dispatcher
	ctx      context.Context
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
}

func NewHandler(ctx context.Context, d *protocol.Dispatcher) *Handler {
	return &Handler{
		d:   d,
		ctx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// ServeHTTP upgrades the request and serves calls until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.track(c)
	h.d.Connections().Add(c.id, c)
	log.Info().Str("sid", c.id).Str("remote", r.RemoteAddr).Msg("websocket connected")

	go c.writePump()
	h.readPump(c)

	// queued calls finish before the disconnect so their bindings are cleaned up too
	c.calls.Wait()
	h.d.Disconnect(c.id)
	c.close()
	h.untrack(c)
	log.Info().Str("sid", c.id).Msg("websocket disconnected")
}

// Close drops every open connection.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.close()
	}
}

// Len reports the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// readPump hands frames to a single worker so that one connection's calls run in
// the order they were sent. It returns once the worker has drained the queue.
func (h *Handler) readPump(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	queue := make(chan inFrame, callQueue)
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		for f := range queue {
			h.serve(c, f)
		}
	}()
	defer close(queue)

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("sid", c.id).Msg("websocket read error")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var f inFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			// no id to answer to
			h.d.Reject(c.id, game.ErrInvalidRequest.WithCause(err))
			continue
		}
		queue <- f
	}
}

func (h *Handler) serve(c *conn, f inFrame) {
	var resp protocol.Response
	call, err := protocol.Decode(f.Event, f.Data)
	if err != nil {
		resp = protocol.Fail(err)
	} else {
		resp = h.d.Handle(h.ctx, c.id, call)
	}
	c.write(outFrame{ID: f.ID, Event: EventAck, Data: resp})
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
}

// conn is one client. Only writePump writes to ws.
type conn struct {
	id    string
	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	calls sync.WaitGroup
}

// Emit implements protocol.Sink.
func (c *conn) Emit(event string, v ...interface{}) {
	var data any
	if len(v) > 0 {
		data = v[0]
	}
	c.write(outFrame{Event: event, Data: data})
}

func (c *conn) write(f outFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("sid", c.id).Str("event", f.Event).Msg("failed to encode frame")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	default:
		log.Warn().Str("sid", c.id).Str("event", f.Event).Msg("send buffer full, closing connection")
		c.close()
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *conn) flush() {
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			return
		}
	}
}
