// Package keyedlock provides non-blocking per-key locks. The lifecycle
// handlers use it to keep one in-flight operation per transfer: a second
// event for the same transfer is dropped instead of queued, because the next
// indexer poll re-delivers anything still actionable.
package keyedlock

import "sync"

// KeyedLock is a set of independent locks addressed by string key.
// The zero value is not usable; call New.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty KeyedLock.
func New() *KeyedLock {
	return &KeyedLock{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key if it is free.
//
// Parameters:
// - key: the lock identity.
//
// Returns:
// - bool: true if the lock was acquired, false if another holder has it.
func (l *KeyedLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock for key. Releasing a key that is not held is a
// no-op.
func (l *KeyedLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
}

// Held reports whether the lock for key is currently taken.
func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.held[key]
	return ok
}
