package replay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores consumed signatures with SET NX so that concurrent API
// processes agree on a single winner.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a guard over client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) SetIfAbsent(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, Key(signature), 1, ttl).Result()
}

func (r *Redis) Exists(ctx context.Context, signature string) (bool, error) {
	n, err := r.client.Exists(ctx, Key(signature)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Release(ctx context.Context, signature string) error {
	return r.client.Del(ctx, Key(signature)).Err()
}
