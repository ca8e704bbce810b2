package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hongson-portal/internal/client"
	"hongson-portal/internal/util"
)

const loginAttemptPrefix = "login_attempts:"

// counterStore is the subset of client.RedisClient the cache needs.
type counterStore interface {
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// LoginAttemptCache counts failed admin logins per client key. Each failure
// re-arms the window, so a key stays locked until it has been quiet for the
// whole window.
type LoginAttemptCache struct {
	client      counterStore
	maxAttempts int
	window      time.Duration
}

func NewLoginAttemptCache(client counterStore, maxAttempts int, window time.Duration) *LoginAttemptCache {
	return &LoginAttemptCache{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow reports whether key is still under the failure limit.
func (c *LoginAttemptCache) Allow(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	countStr, err := c.client.Get(ctx, loginAttemptPrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read login attempts: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid login attempt counter",
			zap.String("key", key),
			zap.String("count_str", countStr))
		return false, fmt.Errorf("invalid counter format: %w", err)
	}

	return count < c.maxAttempts, nil
}

func (c *LoginAttemptCache) RecordFailure(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, loginAttemptPrefix+key, c.window)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	if int(count) >= c.maxAttempts {
		util.Warn("Admin login locked for client",
			zap.String("key", key),
			zap.Int64("attempts", count),
			zap.Duration("window", c.window))
	}
	return nil
}

func (c *LoginAttemptCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginAttemptPrefix+key); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}
