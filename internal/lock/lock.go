// Package lock serializes mutations per entry id while letting unrelated
// ids proceed in parallel. Locks are created on demand and dropped from the
// table once nothing holds or waits on them, so memory stays bounded over
// an unbounded id space.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rogersnm/griddle/internal/fault"
)

const DefaultTimeout = 5 * time.Second

type Manager struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock uses a one-slot channel as the mutex; whoever holds the token
// holds the lock. refs counts holders plus waiters.
type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{timeout: timeout, locks: make(map[string]*keyLock)}
}

// WithLock runs fn while holding the exclusive lock for key. Acquisition
// fails with LockTimeout once the manager timeout elapses, or with the
// context error if the caller abandons the wait first. The lock is released
// on every exit path, including a panic inside fn.
func (m *Manager) WithLock(ctx context.Context, key string, fn func() error) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, l)
		return fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	case <-timer.C:
		m.unref(key, l)
		return fault.New(fault.LockTimeout, "timed out waiting for lock on %s after %s", key, m.timeout)
	}

	defer func() {
		<-l.ch
		m.unref(key, l)
	}()
	return fn()
}

func (m *Manager) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// active reports how many keys currently have a live lock entry.
func (m *Manager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
