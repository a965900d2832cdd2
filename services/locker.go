package services

import (
	"context"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Locker hands out short-lived named locks. TryLock never waits: ok is false
// when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares job locks between engine instances.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "farmora:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (rl *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := rl.prefix + key
	token := utils.GenerateUUID()

	ok, err := rl.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	return rl.releaser(fullKey, token), true, nil
}

// releaser deletes the key if it still holds token. A failed release leaves the
// lock in place until its TTL runs out.
func (rl *RedisLocker) releaser(fullKey, token string) func() {
	return func() {
		// the caller's context may already be cancelled at release time
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, rl.client, []string{fullKey}, token).Err(); err != nil {
			logrus.WithField("lock", fullKey).Warnf("Failed to release lock: %v", err)
		}
	}
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]time.Time), now: time.Now}
}

func (ll *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now()
	if expiresAt, held := ll.locks[key]; held && now.Before(expiresAt) {
		return nil, false, nil
	}
	expiresAt := now.Add(ttl)
	ll.locks[key] = expiresAt

	release := func() {
		ll.mu.Lock()
		defer ll.mu.Unlock()
		if ll.locks[key].Equal(expiresAt) {
			delete(ll.locks, key)
		}
	}
	return release, true, nil
}
