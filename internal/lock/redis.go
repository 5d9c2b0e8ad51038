package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 30 * time.Second

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig addresses the Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisLocker holds locks as Redis keys with an expiry.
type RedisLocker struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis connects to Redis and verifies the connection. Locks expire
// after ttl if their holder never releases them.
func NewRedis(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, prefix: "studyloop:lock:", ttl: ttl, retry: 50 * time.Millisecond}, nil
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := ulid.Make().String()

	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			// On failure the key still expires after ttl.
			_ = releaseScript.Run(releaseCtx, r.rdb, []string{full}, token).Err()
		})
	}, nil
}

// Close closes the Redis connection.
func (r *RedisLocker) Close() error { return r.rdb.Close() }
