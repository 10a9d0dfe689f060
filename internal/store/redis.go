package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the replay guard, directory cache, queue
// and stats.
type Redis struct {
	Client *redis.Client
}

// NewRedis accepts either host:port or a redis:// URL (for credentials and
// database selection). Timeouts stay short; blocking commands extend their own.
func NewRedis(addr string) *Redis {
	return &Redis{Client: redis.NewClient(redisOptions(addr))}
}

func redisOptions(addr string) *redis.Options {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if parsed, err := redis.ParseURL(addr); err == nil {
			opts = parsed
		}
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return opts
}

// Healthy reports whether redis answers PING.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
