// Package safelock wraps mutex critical sections so that a panic inside
// the section degrades into a reportable error instead of tearing down
// the host process. Tracking code runs embedded in arbitrary programs;
// a corrupted stats update must never take the host with it.
package safelock

import (
	"sync"

	"github.com/justapithecus/memtrace/types"
)

// WithLock runs fn while holding mu. A panic inside fn is recovered and
// converted into a LockContention error; the lock is always released.
func WithLock(mu *sync.Mutex, fn func()) (err error) {
	mu.Lock()
	defer mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = types.NewTrackError(types.KindLockContention, "panic in critical section: %v", r)
		}
	}()
	fn()
	return nil
}

// WithRLock runs fn while holding mu for reading, with the same panic
// conversion as WithLock.
func WithRLock(mu *sync.RWMutex, fn func()) (err error) {
	mu.RLock()
	defer mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			err = types.NewTrackError(types.KindLockContention, "panic in critical section: %v", r)
		}
	}()
	fn()
	return nil
}

// WithWLock runs fn while holding mu for writing, with the same panic
// conversion as WithLock.
func WithWLock(mu *sync.RWMutex, fn func()) (err error) {
	mu.Lock()
	defer mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = types.NewTrackError(types.KindLockContention, "panic in critical section: %v", r)
		}
	}()
	fn()
	return nil
}
