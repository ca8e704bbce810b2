package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"hongson-portal/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounterStore struct {
	values  map[string]int64
	ttls    map[string]time.Duration
	failErr error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		values: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeCounterStore) Get(_ context.Context, key string) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", client.ErrKeyNotFound
	}
	return strconv.FormatInt(v, 10), nil
}

func (f *fakeCounterStore) Del(_ context.Context, keys ...string) error {
	if f.failErr != nil {
		return f.failErr
	}
	for _, k := range keys {
		delete(f.values, k)
		delete(f.ttls, k)
	}
	return nil
}

func (f *fakeCounterStore) IncrWithExpire(_ context.Context, key string, expiration time.Duration) (int64, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.values[key]++
	f.ttls[key] = expiration
	return f.values[key], nil
}

func TestLoginAttemptCache_LocksAfterMaxFailures(t *testing.T) {
	store := newFakeCounterStore()
	cache := NewLoginAttemptCache(store, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := cache.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
		require.NoError(t, cache.RecordFailure(ctx, "10.0.0.1"))
	}

	allowed, err := cache.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 15*time.Minute, store.ttls["login_attempts:10.0.0.1"])

	allowed, err = cache.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLoginAttemptCache_ResetClearsCounter(t *testing.T) {
	store := newFakeCounterStore()
	cache := NewLoginAttemptCache(store, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.RecordFailure(ctx, "ip"))
	allowed, err := cache.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, cache.Reset(ctx, "ip"))
	allowed, err = cache.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLoginAttemptCache_BackendErrorsPropagate(t *testing.T) {
	store := newFakeCounterStore()
	store.failErr = errors.New("connection refused")
	cache := NewLoginAttemptCache(store, 3, time.Minute)

	_, err := cache.Allow(context.Background(), "ip")
	assert.Error(t, err)
	assert.Error(t, cache.RecordFailure(context.Background(), "ip"))
	assert.Error(t, cache.Reset(context.Background(), "ip"))
}
