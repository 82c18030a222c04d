package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"qbank-server/examtype"
)

// Cache holds computed Stats per exam. Failures are logged, never returned:
// a broken cache only costs a recomputation.
//
// Every Invalidate bumps a per-exam generation. Set only stores when the
// generation still equals gen, the value read before the stats were computed,
// so a computation that raced an invalidation never repopulates the cache.
type Cache interface {
	Get(ctx context.Context, key examtype.Key) (Stats, bool)
	Generation(ctx context.Context, key examtype.Key) (uint64, bool)
	Set(ctx context.Context, key examtype.Key, gen uint64, st Stats)
	Invalidate(ctx context.Context, key examtype.Key)
}

// NopCache caches nothing.
type NopCache struct{}

func (NopCache) Get(context.Context, examtype.Key) (Stats, bool)          { return Stats{}, false }
func (NopCache) Generation(context.Context, examtype.Key) (uint64, bool) { return 0, false }
func (NopCache) Set(context.Context, examtype.Key, uint64, Stats)        {}
func (NopCache) Invalidate(context.Context, examtype.Key)                {}

// RedisCache stores Stats as JSON under qbank:stats:<exam> and the
// generation counter under qbank:stats:<exam>:gen.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisCache wraps client with the given TTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, log: logger}
}

func cacheKey(key examtype.Key) string { return "qbank:stats:" + string(key) }

func genKey(key examtype.Key) string { return cacheKey(key) + ":gen" }

// setIfGeneration writes ARGV[2] to KEYS[1] with a PX of ARGV[3] only while
// KEYS[2] still holds generation ARGV[1]. A missing counter is generation 0.
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

func (c *RedisCache) Get(ctx context.Context, key examtype.Key) (Stats, bool) {
	var st Stats
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("stats cache read failed", "exam", key, "error", err)
		}
		return st, false
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		c.log.Warn("stats cache entry unreadable", "exam", key, "error", err)
		return st, false
	}
	return st, true
}

func (c *RedisCache) Generation(ctx context.Context, key examtype.Key) (uint64, bool) {
	gen, err := c.client.Get(ctx, genKey(key)).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		c.log.Warn("stats cache generation read failed", "exam", key, "error", err)
		return 0, false
	}
	return gen, true
}

func (c *RedisCache) Set(ctx context.Context, key examtype.Key, gen uint64, st Stats) {
	raw, err := json.Marshal(st)
	if err != nil {
		c.log.Warn("stats cache encode failed", "exam", key, "error", err)
		return
	}
	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{cacheKey(key), genKey(key)},
		strconv.FormatUint(gen, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.log.Warn("stats cache write failed", "exam", key, "error", err)
		return
	}
	if stored == 0 {
		c.log.Debug("stats invalidated while computing, not cached", "exam", key)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, key examtype.Key) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(key))
		pipe.Del(ctx, cacheKey(key))
		return nil
	})
	if err != nil {
		c.log.Warn("stats cache invalidation failed", "exam", key, "error", err)
	}
}
