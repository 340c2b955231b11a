package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Lock is a held run lock. Only the holder's token can release or extend it.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// Locker hands out single-holder locks so that two runs of the same job never overlap.
type Locker struct {
	client    *Client
	keyPrefix string
}

func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "clover:lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire fails fast with ErrLockNotAcquired when another holder has the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &Lock{
		client: l.client,
		key:    lockKey,
		token:  token,
		ttl:    ttl,
	}, nil
}

func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.ttl = ttl
	return nil
}

// WithLock runs fn while holding key. The lock is extended every ttl/2 until fn returns,
// so a long run does not lose it to expiry.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, ttl); err != nil {
					l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock: %s", lock.key)
				}
			}
		}
	}()

	defer func() {
		close(done)
		<-stopped
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", lock.key)
		}
	}()

	return fn(ctx)
}
