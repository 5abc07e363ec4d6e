package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// redisClient is the subset of redis.Cmdable the lock needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// Redis is a Locker shared by every process pointing at the same server.
// Locks carry a TTL that is renewed while held, so a crashed holder frees
// the key after one TTL while a long deploy keeps it.
type Redis struct {
	client  redisClient
	logger  *slog.Logger
	prefix  string
	ttl     time.Duration
	renew   time.Duration
	retry   time.Duration
	timeout time.Duration
}

// NewRedis connects to addr and verifies it answers.
func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, func() error, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedis(client, ttl, logger), client.Close, nil
}

func newRedis(client redisClient, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	renew := ttl / 3
	if renew <= 0 {
		renew = ttl
	}
	return &Redis{
		client:  client,
		logger:  logger,
		prefix:  "kubehost:deploy-lock:",
		ttl:     ttl,
		renew:   renew,
		retry:   250 * time.Millisecond,
		timeout: 2 * time.Second,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go r.keepAlive(redisKey, token, stop, done)
			return r.releaser(redisKey, token, stop, done), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// keepAlive extends the key every renew interval until stop is closed or
// the key no longer holds token.
func (r *Redis) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.renew)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		n, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			r.logger.Warn("redis lock renewal failed", "key", redisKey, "error", err)
		case n == 0:
			r.logger.Warn("redis lock lost before renewal", "key", redisKey)
			return
		}
	}
}

func (r *Redis) releaser(redisKey, token string, stop chan<- struct{}, done <-chan struct{}) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		n, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Error("redis lock release failed", "key", redisKey, "error", err)
			return
		}
		if n == 0 {
			r.logger.Warn("redis lock expired before release", "key", redisKey)
		}
	}
}
