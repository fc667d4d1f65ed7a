package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTierOptions configures the distributed cache tier, adapted from
// taipm-go-deep-agent's RedisCacheOptions — same pooling/timeout/prefix
// knobs, generalized to accept a UniversalClient so a single node and a
// cluster deployment share one code path.
type RedisTierOptions struct {
	Addr       string
	DB         int
	KeyPrefix  string
	DefaultTTL time.Duration

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// redisTier is the distributed cache tier: a shared second-level cache
// behind the per-process memoryTier, so a fleet of gateway instances shares
// hits instead of each keeping its own cold cache.
type redisTier struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

func newRedisTier(opts RedisTierOptions) (*redisTier, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns <= 0 {
		opts.MinIdleConns = 5
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "unigate"
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis cache tier: %w\n\n"+
			"Fix:\n"+
			"  1. Check Redis is running: redis-cli ping\n"+
			"  2. Verify cache.redis_addr points at it\n"+
			"  3. Check firewall/network settings between gateway and Redis\n", err)
	}

	return &redisTier{client: client, prefix: opts.KeyPrefix, defaultTTL: opts.DefaultTTL}, nil
}

func (r *redisTier) makeKey(k Key) string {
	return fmt.Sprintf("%s:cache:%s", r.prefix, k.RedisField())
}

func (r *redisTier) get(ctx context.Context, key Key) (entry, bool, error) {
	val, err := r.client.Get(ctx, r.makeKey(key)).Bytes()
	if err == redis.Nil {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("redis cache get: %w", err)
	}
	e, err := unmarshalEntry(val)
	if err != nil {
		return entry{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return e, true, nil
}

func (r *redisTier) set(ctx context.Context, key Key, val entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	data, err := val.marshal()
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.makeKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (r *redisTier) delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, r.makeKey(key)).Err()
}

func (r *redisTier) close() error {
	return r.client.Close()
}
