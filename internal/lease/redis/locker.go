// Package redis implements lease.Locker on Redis with SET NX PX and a
// compare-and-delete release.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/lease"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const keyPrefix = "lease:"

// Client is the subset of the go-redis client used by Locker.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
}

// TokenSource issues the random token that identifies a holder.
type TokenSource interface {
	NewID() (string, error)
}

// Locker acquires leases stored as Redis keys.
type Locker struct {
	client Client
	tokens TokenSource
	logger *zap.Logger
}

// New creates a Locker.
func New(client Client, tokens TokenSource, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, tokens: tokens, logger: logger.Named("lease")}
}

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire takes name for ttl or returns lease.ErrHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (lease.Lease, error) {
	token, err := l.tokens.NewID()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	key := keyPrefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lease %s: %w", name, lease.ErrHeld)
	}
	l.logger.Debug("lease acquired", zap.String("name", name), zap.Duration("ttl", ttl))
	return &held{locker: l, key: key, token: token}, nil
}

type held struct {
	locker *Locker
	key    string
	token  string
}

// Release deletes the key only if it still holds our token, so an expired
// lease re-taken by someone else is left alone.
func (h *held) Release(ctx context.Context) error {
	n, err := h.locker.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", h.key, err)
	}
	if n == 0 {
		h.locker.logger.Warn("lease expired before release", zap.String("key", h.key))
	}
	return nil
}
