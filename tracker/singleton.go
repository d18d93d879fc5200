package tracker

import (
	"sync/atomic"

	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/types"
)

// The allocator hook installs exactly one tracker per process. The
// singleton is safe to read from any thread, including during late
// shutdown: a nil pointer means "no tracker", and the dispatcher's own
// inactive sentinel prevents re-entry during teardown.
var globalDispatcher atomic.Pointer[Dispatcher]

// Initialize installs the process-wide tracker. Idempotent: a second
// call with an already installed tracker returns it unchanged.
func Initialize(config Config, logger *log.Logger) (*Dispatcher, error) {
	if d := globalDispatcher.Load(); d != nil {
		return d, nil
	}
	d, err := NewDispatcher(config, logger)
	if err != nil {
		return nil, err
	}
	if !globalDispatcher.CompareAndSwap(nil, d) {
		// Lost the race; use the winner.
		return globalDispatcher.Load(), nil
	}
	return d, nil
}

// Global returns the installed tracker, or nil before Initialize.
func Global() *Dispatcher {
	return globalDispatcher.Load()
}

// Teardown stops and uninstalls the tracker, returning the exported
// dataset. Safe to call twice; the second call reports NotActive.
func Teardown() ([]byte, error) {
	d := globalDispatcher.Swap(nil)
	if d == nil {
		return nil, types.NewTrackError(types.KindNotActive, "no tracker installed")
	}
	return d.Stop()
}
