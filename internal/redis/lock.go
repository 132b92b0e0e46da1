package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medicore/clinic-scheduling/internal/lock"
)

const acquireRetryDelay = 25 * time.Millisecond

// KeyedLocker implements lock.Locker on Redis SetNX leases, shared by every
// process that mutates the schedule. Keys are sorted and deduplicated before
// acquisition and the whole set is taken all-or-nothing, so overlapping key
// sets cannot deadlock. Leases expire after ttl in case a holder dies.
type KeyedLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

var _ lock.Locker = (*KeyedLocker)(nil)

func NewKeyedLocker(client *redis.Client, ttl, wait time.Duration) *KeyedLocker {
	return &KeyedLocker{client: client, ttl: ttl, wait: wait}
}

func (l *KeyedLocker) WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = lock.SortKeys(keys)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		acquired, err := l.tryAcquire(ctx, keys, token)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return lock.ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryDelay):
		}
	}
	defer func() {
		_ = l.release(ctx, keys, token)
	}()

	// The critical section must not outlive the leases.
	fnCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(fnCtx)
}

// tryAcquire takes every key or none; a partial acquisition is rolled back
// before reporting failure.
func (l *KeyedLocker) tryAcquire(ctx context.Context, keys []string, token string) (bool, error) {
	for i, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			_ = l.release(ctx, keys[:i], token)
			return false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if !ok {
			_ = l.release(ctx, keys[:i], token)
			return false, nil
		}
	}
	return true, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// release deletes only leases still holding our token, so an expired lease
// re-acquired by someone else is never clobbered.
func (l *KeyedLocker) release(ctx context.Context, keys []string, token string) error {
	var firstErr error
	for _, key := range keys {
		_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
		if err != nil && !errors.Is(err, redis.Nil) && firstErr == nil {
			firstErr = fmt.Errorf("release lock %s: %w", key, err)
		}
	}
	return firstErr
}
