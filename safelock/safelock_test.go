package safelock_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/justapithecus/memtrace/safelock"
	"github.com/justapithecus/memtrace/types"
)

func TestWithLock_RunsSection(t *testing.T) {
	var mu sync.Mutex
	ran := false
	if err := safelock.WithLock(&mu, func() { ran = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Errorf("critical section did not run")
	}
}

func TestWithLock_PanicBecomesLockContention(t *testing.T) {
	var mu sync.Mutex
	err := safelock.WithLock(&mu, func() { panic("corrupt stats") })
	if err == nil {
		t.Fatalf("expected error from panicking section")
	}
	if !errors.Is(err, types.ErrLockContention) {
		t.Errorf("expected LockContention, got %v", err)
	}

	// The lock must have been released: a second acquisition succeeds.
	if err := safelock.WithLock(&mu, func() {}); err != nil {
		t.Errorf("lock not released after panic: %v", err)
	}
}

func TestWithRLock_ConcurrentReaders(t *testing.T) {
	var mu sync.RWMutex
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = safelock.WithRLock(&mu, func() {})
		}()
	}
	wg.Wait()
}
