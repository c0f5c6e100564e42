package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/warp/girvi-engine/pledge"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another replica is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Redis is a lease lock shared by all replicas connected to one Redis.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
	prefix string
	token  func() string
}

var _ Locker = (*Redis)(nil)

type RedisOption func(*Redis)

// WithPrefix namespaces every key, e.g. per shop.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTokenFunc replaces the lease token generator (tests).
func WithTokenFunc(fn func() string) RedisOption {
	return func(r *Redis) { r.token = fn }
}

// NewRedis builds a lease lock. ttl bounds how long a crashed holder can
// block an item; retry is the polling interval while waiting.
func NewRedis(client redis.Cmdable, ttl, retry time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    ttl,
		retry:  retry,
		prefix: "girvi:lock:",
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry <= 0 {
		r.retry = 25 * time.Millisecond
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	tok := r.token()

	for {
		ok, err := r.client.SetNX(ctx, full, tok, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", pledge.ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			released := false
			return func() {
				if released {
					return
				}
				released = true
				// the lease expires on its own if this fails
				r.client.Eval(context.Background(), releaseScript, []string{full}, tok)
			}, nil
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", pledge.ErrLockTimeout, key, ctx.Err())
		case <-timer.C:
		}
	}
}
