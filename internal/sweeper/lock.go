package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock guards a sweep so that overlapping runs do not both execute it.
type Lock interface {
	// Acquire reports false without error when another holder owns the lock.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if this holder still owns it.
	Release(ctx context.Context) error
}

// releaseScript deletes the key only when it still holds our token, so an
// expired-and-reacquired lock is never released by the previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Lock held as a SET NX key with a TTL.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedisLock creates a RedisLock. The TTL bounds how long a crashed holder
// can block other runs.
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire implements Lock.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx %s", l.key)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release implements Lock.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return errors.Wrapf(err, "release %s", l.key)
	}
	return nil
}

// LocalLock is an in-process Lock for single-instance deployments.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

// Acquire implements Lock.
func (l *LocalLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

// Release implements Lock.
func (l *LocalLock) Release(context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}
