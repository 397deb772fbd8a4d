package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/geotrivia/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Server exposes the protocol over socket.io. Every call's ack carries its response envelope.
type Server struct {
	d   *protocol.Dispatcher
	ctx context.Context
}

func New(d *protocol.Dispatcher) *Server {
	return &Server{d: d, ctx: context.Background()}
}

// WithContext sets the parent context of every call, used to abort question
// generation on shutdown.
func (srv *Server) WithContext(ctx context.Context) *Server {
	srv.ctx = ctx
	return srv
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.register(io)

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})
	return io
}

func (srv *Server) register(io *socketio.Server) {
	io.OnConnect("/", func(s socketio.Conn) error {
		srv.connect(s)
		return nil
	})

	for _, event := range []string{
		protocol.EventSessionCreate,
		protocol.EventSessionJoin,
		protocol.EventSessionLeave,
		protocol.EventGameStart,
		protocol.EventQuestionNext,
		protocol.EventGameAnswer,
	} {
		io.OnEvent("/", event, srv.handle(event))
	}

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		srv.disconnect(s, reason)
	})
}

func (srv *Server) connect(s socketio.Conn) {
	srv.d.Connections().Add(s.ID(), s)
	log.Info().Str("sid", s.ID()).Msg("socket connected")
}

func (srv *Server) disconnect(s socketio.Conn, reason string) {
	srv.d.Disconnect(s.ID())
	log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
}

// handle returns the socket.io handler for event. Payloads arrive raw and are
// decoded here, so a malformed payload is still acked with an error envelope.
func (srv *Server) handle(event string) func(socketio.Conn, json.RawMessage) protocol.Response {
	return func(s socketio.Conn, raw json.RawMessage) protocol.Response {
		call, err := protocol.Decode(event, raw)
		if err != nil {
			log.Warn().Str("sid", s.ID()).Str("event", event).Err(err).Msg("undecodable payload")
			return protocol.Fail(err)
		}
		return srv.d.Handle(srv.ctx, s.ID(), call)
	}
}
