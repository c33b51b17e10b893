package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	syncLockPrefix = "sync:lock:"
	// DefaultSyncLockTTL bounds how long a crashed holder can block other passes.
	DefaultSyncLockTTL = 5 * time.Minute
)

// releaseScript deletes the lock only while it still carries our token, so an
// expired holder can never release a lock that was taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL while the lock still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisSyncLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSyncLock(client *redis.Client, tag string, ttl time.Duration) *RedisSyncLock {
	if ttl <= 0 {
		ttl = DefaultSyncLockTTL
	}
	return &RedisSyncLock{
		client: client,
		key:    syncLockPrefix + tag,
		ttl:    ttl,
	}
}

func (l *RedisSyncLock) Acquire(ctx context.Context) (Lease, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{lock: l, token: token}, true, nil
}

type redisLease struct {
	lock  *RedisSyncLock
	token string
}

func (le *redisLease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.token, le.lock.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend sync lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (le *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.token).Err(); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// NoopSyncLock always acquires. It only suits a store no other process opens.
type NoopSyncLock struct{}

func (NoopSyncLock) Acquire(context.Context) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Extend(context.Context) error  { return nil }
func (noopLease) Release(context.Context) error { return nil }
