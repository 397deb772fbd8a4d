// Package httpapi builds the HTTP surface of the server: health, metrics, a read-only
// session API and the two realtime transports.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/kiliankoe/geotrivia/internal/protocol"
	"github.com/kiliankoe/geotrivia/internal/ws"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Registry *game.Registry
	// Socket serves socket.io clients under /socket.io when set.
	Socket *ws.Server
	// JSON serves plain websocket clients under /ws when set.
	JSON    http.Handler
	Metrics http.Handler
	Pprof   bool
}

// NewRouter returns the engine and, if a socket.io server was mounted, that server
// so the caller can close it.
func NewRouter(o Options) (*gin.Engine, *socketio.Server) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger("/socket.io", "/ws", "/metrics"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "sessions": o.Registry.Len()})
	})
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics))
	}
	if o.Pprof {
		pprof.Register(r, "/debug/pprof")
	}

	api := r.Group("/api/sessions")
	api.GET("/:id", func(c *gin.Context) {
		s, ok := session(c, o.Registry)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, protocol.OK(s.View()))
	})
	api.GET("/:id/leaderboard", func(c *gin.Context) {
		s, ok := session(c, o.Registry)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, protocol.OK(s.Leaderboard()))
	})

	var io *socketio.Server
	if o.Socket != nil {
		io = o.Socket.Mount(r)
	}
	if o.JSON != nil {
		r.GET("/ws", gin.WrapH(o.JSON))
	}
	return r, io
}

func session(c *gin.Context, reg *game.Registry) (*game.Session, bool) {
	s, err := reg.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, protocol.Fail(err))
		return nil, false
	}
	return s, true
}

// requestLogger logs every request except those under the given prefixes, which
// are either long-lived or scraped often.
func requestLogger(skip ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		for _, p := range skip {
			if strings.HasPrefix(path, p) {
				return
			}
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).
			Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}
