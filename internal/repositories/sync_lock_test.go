package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisSyncLock_Exclusive tests that a second holder is refused until release
func TestRedisSyncLock_Exclusive(t *testing.T) {
	client := getTestRedisClient(t)
	ctx := context.Background()
	tag := "test-" + uuid.NewString()
	defer client.Del(ctx, syncLockPrefix+tag)

	first := NewRedisSyncLock(client, tag, time.Minute)
	second := NewRedisSyncLock(client, tag, time.Minute)

	lease, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held by the first pass")

	require.NoError(t, lease.Release(ctx))

	lease2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lease2.Release(ctx))
}

// TestRedisSyncLock_ReleaseKeepsForeignLock tests that an expired holder cannot release a new holder's lock
func TestRedisSyncLock_ReleaseKeepsForeignLock(t *testing.T) {
	client := getTestRedisClient(t)
	ctx := context.Background()
	tag := "test-" + uuid.NewString()
	key := syncLockPrefix + tag
	defer client.Del(ctx, key)

	lock := NewRedisSyncLock(client, tag, time.Minute)
	lease, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by another process taking the lock
	require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())

	assert.ErrorIs(t, lease.Extend(ctx), ErrLockLost)
	require.NoError(t, lease.Release(ctx))
	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

// TestRedisSyncLock_TTL tests that the lock expires on its own
func TestRedisSyncLock_TTL(t *testing.T) {
	client := getTestRedisClient(t)
	ctx := context.Background()
	tag := "test-" + uuid.NewString()
	defer client.Del(ctx, syncLockPrefix+tag)

	_, ok, err := NewRedisSyncLock(client, tag, 100*time.Millisecond).Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := NewRedisSyncLock(client, tag, time.Minute).Acquire(ctx)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)
}

// TestRedisSyncLock_Extend tests that extending keeps a long pass from losing the lock
func TestRedisSyncLock_Extend(t *testing.T) {
	client := getTestRedisClient(t)
	ctx := context.Background()
	tag := "test-" + uuid.NewString()
	key := syncLockPrefix + tag
	defer client.Del(ctx, key)

	lock := NewRedisSyncLock(client, tag, 300*time.Millisecond)
	lease, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// ACT: Keep extending for longer than the TTL
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, lease.Extend(ctx))
	}

	// ASSERT: Nobody else could take it in the meantime
	_, ok, err = NewRedisSyncLock(client, tag, time.Minute).Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, lease.Release(ctx))
}

func TestNoopSyncLock(t *testing.T) {
	lease, ok, err := NoopSyncLock{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, lease.Extend(context.Background()))
	assert.NoError(t, lease.Release(context.Background()))
}

// getTestRedisClient connects to the local test Redis and skips when it is not running
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use DB 1 for tests (different from production DB 0)
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
