package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/geotrivia/internal/config"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/kiliankoe/geotrivia/internal/httpapi"
	"github.com/kiliankoe/geotrivia/internal/metrics"
	"github.com/kiliankoe/geotrivia/internal/protocol"
	"github.com/kiliankoe/geotrivia/internal/ws"
	"github.com/kiliankoe/geotrivia/internal/wsjson"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides PORT)")
	return cmd
}

// app holds everything a running server owns.
type app struct {
	reg     *game.Registry
	d       *protocol.Dispatcher
	json    *wsjson.Handler
	io      *socketio.Server
	rdb     *redis.Client
	router  *gin.Engine
	metrics *metrics.Metrics
}

// newApp wires the server. ctx is the parent of every call and is cancelled on
// shutdown to abort pending question generation.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	gen, rdb, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}

	conns := protocol.NewConnections()
	opts := game.Options{
		Generator:       gen,
		Notifier:        conns,
		MinPlayers:      cfg.Game.MinPlayers,
		QuestionCount:   cfg.Game.QuestionCount,
		GenerateTimeout: cfg.Game.GenerateTimeout,
		AnswerGrace:     cfg.Game.AnswerGrace,
		AutoAdvance:     cfg.Game.AutoAdvance,
	}
	if cfg.Game.ExportFile != "" {
		opts.Exporter = game.NewFileExporter(cfg.Game.ExportFile)
	}
	reg := game.NewRegistry(opts)

	a := &app{reg: reg, rdb: rdb}
	a.metrics = metrics.New(reg.Len, conns.Len)
	reg.OnDelete(a.metrics.SessionDeleted)
	a.d = protocol.NewDispatcher(reg, conns, a.metrics)
	a.json = wsjson.NewHandler(ctx, a.d)
	a.router, a.io = httpapi.NewRouter(httpapi.Options{
		Registry: reg,
		Socket:   ws.New(a.d).WithContext(ctx),
		JSON:     a.json,
		Metrics:  a.metrics.Handler(),
		Pprof:    cfg.Debug.Pprof,
	})
	return a, nil
}

// close notifies connected clients, drops their connections and stops all
// session timers.
func (a *app) close() {
	a.d.Shutdown()
	a.json.Close()
	if a.io != nil {
		if err := a.io.Close(); err != nil {
			log.Warn().Err(err).Msg("close socket.io server")
		}
	}
	a.reg.Close()
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis client")
		}
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	callCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(callCtx, cfg)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var eg errgroup.Group
	eg.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("provider", cfg.Questions.Provider).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		cancel()
		a.close()

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}
