package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogersnm/griddle/internal/fault"
)

func TestWithLock_SerializesSameKey(t *testing.T) {
	m := NewManager(5 * time.Second)

	var inCritical atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "2025-01-10_roast-chicken", func() error {
				n := inCritical.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				inCritical.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load(), "critical section overlapped")
	assert.Equal(t, 0, m.active(), "lock table should be empty once idle")
}

func TestWithLock_DistinctKeysRunInParallel(t *testing.T) {
	m := NewManager(5 * time.Second)

	firstHeld := make(chan struct{})
	release := make(chan struct{})
	go m.WithLock(context.Background(), "2025-01-10_bread", func() error {
		close(firstHeld)
		<-release
		return nil
	})
	<-firstHeld
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- m.WithLock(context.Background(), "2025-01-11_stew", func() error { return nil })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind an unrelated lock")
	}
}

func TestWithLock_Timeout(t *testing.T) {
	m := NewManager(50 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go m.WithLock(context.Background(), "k", func() error {
		close(held)
		<-release
		return nil
	})
	<-held
	defer close(release)

	err := m.WithLock(context.Background(), "k", func() error {
		t.Fatal("fn must not run after timeout")
		return nil
	})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.LockTimeout))
}

func TestWithLock_ContextCancel(t *testing.T) {
	m := NewManager(5 * time.Second)

	held := make(chan struct{})
	release := make(chan struct{})
	go m.WithLock(context.Background(), "k", func() error {
		close(held)
		<-release
		return nil
	})
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.WithLock(ctx, "k", func() error { return nil })
	}()
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fault.Is(err, fault.LockTimeout))
}

func TestWithLock_ReleasedOnPanic(t *testing.T) {
	m := NewManager(time.Second)

	func() {
		defer func() { recover() }()
		m.WithLock(context.Background(), "k", func() error {
			panic("boom")
		})
	}()

	// A second acquisition succeeds because the panic released the lock.
	err := m.WithLock(context.Background(), "k", func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, m.active())
}

func TestWithLock_PropagatesFnError(t *testing.T) {
	m := NewManager(time.Second)
	want := fault.New(fault.NotFound, "missing")
	err := m.WithLock(context.Background(), "k", func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestNewManager_DefaultTimeout(t *testing.T) {
	m := NewManager(0)
	assert.Equal(t, DefaultTimeout, m.timeout)
}
