package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still carries our token, so an expired
// lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis locks keys across bot instances. It never waits: a held key yields ErrAlreadyLocked.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, log zerolog.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	k := r.prefix + "lock:" + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return func() {
		// the caller's ctx may already be done, release on a fresh one
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{k}, token).Err(); err != nil {
			r.log.Warn().Err(err).Str("key", k).Msg("Failed to release lock")
		}
	}, nil
}
