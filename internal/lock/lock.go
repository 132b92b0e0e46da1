package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker guards critical sections per schedule key. Implementations must
// acquire every key or none, within a bounded wait, so callers never hang on
// a contended slot.
type Locker interface {
	WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// SortKeys returns the deduplicated keys in a fixed order so that two
// concurrent holders can never acquire in opposite orders.
func SortKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KeyedMutex is an in-process Locker built on a single registry of held keys.
// It backs tests and single-node deployments.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
	wait time.Duration
}

func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{
		held: make(map[string]struct{}),
		wait: wait,
	}
}

func (m *KeyedMutex) WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = SortKeys(keys)

	deadline := time.Now().Add(m.wait)
	for {
		if m.tryAcquire(keys) {
			break
		}
		if time.Now().After(deadline) {
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	defer m.release(keys)

	return fn(ctx)
}

// tryAcquire takes all keys or none, so partially held key sets cannot
// deadlock against each other.
func (m *KeyedMutex) tryAcquire(keys []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		if _, taken := m.held[k]; taken {
			return false
		}
	}
	for _, k := range keys {
		m.held[k] = struct{}{}
	}
	return true
}

func (m *KeyedMutex) release(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.held, k)
	}
}
