package questions

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewRedisClient connects to addr and logs every command at debug level.
func NewRedisClient(addr, password string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	rdb.AddHook(logHook{})
	return rdb
}

type logHook struct{}

func (logHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis dial failed")
		}
		return conn, err
	}
}

func (logHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		ev := log.Debug()
		if err != nil && err != redis.Nil {
			ev = ev.Err(err)
		}
		ev.Str("cmd", cmd.Name()).Dur("dur", time.Since(start)).Msg("redis")
		return err
	}
}

func (logHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		log.Debug().Int("cmds", len(cmds)).Err(err).Msg("redis pipeline")
		return err
	}
}
