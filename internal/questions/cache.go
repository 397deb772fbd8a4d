package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const DefaultPrefix = "geotrivia:"

// Cache keeps generated question sets in redis keyed by region and count.
// Concurrent misses for the same key share one generator call. Redis failures
// fall back to the generator.
type Cache struct {
	Next   game.QuestionGenerator
	Redis  redis.UniversalClient
	TTL    time.Duration
	Prefix string
	// Timeout bounds a shared generator call. The call does not inherit the
	// cancellation of whichever caller started it.
	Timeout time.Duration

	group singleflight.Group
}

func NewCache(next game.QuestionGenerator, rdb redis.UniversalClient, ttl time.Duration, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{Next: next, Redis: rdb, TTL: ttl, Prefix: prefix, Timeout: game.DefaultGenerateTimeout}
}

func (c *Cache) GenerateQuestions(ctx context.Context, region string, count int) ([]game.Question, error) {
	if c.Redis == nil || c.TTL <= 0 {
		return c.Next.GenerateQuestions(ctx, region, count)
	}
	key := c.key(region, count)
	if qs, ok := c.lookup(ctx, key); ok {
		return qs, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout())
		defer cancel()
		qs, err := c.Next.GenerateQuestions(gctx, region, count)
		if err != nil {
			return nil, err
		}
		c.store(gctx, key, qs)
		return qs, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		log.Debug().Str("key", key).Msg("shared question generation")
	}
	qs := res.Val.([]game.Question)
	out := make([]game.Question, len(qs))
	copy(out, qs)
	return out, nil
}

// Invalidate drops the cached set for region and count.
func (c *Cache) Invalidate(ctx context.Context, region string, count int) error {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Del(ctx, c.key(region, count)).Err()
}

func (c *Cache) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return game.DefaultGenerateTimeout
}

func (c *Cache) key(region string, count int) string {
	return fmt.Sprintf("%squestions:%s:%d", c.Prefix, strings.ToLower(strings.TrimSpace(region)), count)
}

func (c *Cache) lookup(ctx context.Context, key string) ([]game.Question, bool) {
	b, err := c.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("question cache lookup failed")
		return nil, false
	}
	var qs []game.Question
	if err := json.Unmarshal(b, &qs); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding corrupt cached questions")
		return nil, false
	}
	log.Debug().Str("key", key).Int("count", len(qs)).Msg("question cache hit")
	return qs, true
}

func (c *Cache) store(ctx context.Context, key string, qs []game.Question) {
	b, err := json.Marshal(qs)
	if err != nil {
		return
	}
	if err := c.Redis.Set(ctx, key, b, c.TTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("question cache store failed")
	}
}
