// Package tracker implements the multi-strategy allocation tracker.
//
// A Dispatcher routes every allocation event to exactly one strategy
// chosen at initialization: a global lock-protected map, a sharded
// thread-local tracker, or a lock-free per-thread binary logger. A
// deterministic sampling policy bounds overhead under high event rates.
package tracker

import (
	"github.com/justapithecus/memtrace/types"
)

// Config controls dispatcher initialization.
type Config struct {
	// Strategy selects the tracking strategy. Selection happens once;
	// the dispatcher never auto-switches at runtime.
	Strategy types.StrategyKind
	// SampleRate is the fraction of events recorded, in [0, 1].
	// 1.0 records everything, 0.0 drops everything.
	SampleRate float64
	// MaxOverheadBytes budgets the tracker's own memory. Allocation
	// events are dropped once the estimated overhead exceeds it;
	// deallocation events are not. Must be > 0.
	MaxOverheadBytes uint64
	// LogDir is the directory for per-thread binary logs. Only the
	// lockfree strategy uses it.
	LogDir string
	// FlushBatch is the frame batch size for the lockfree strategy.
	FlushBatch int
	// Shards is the shard count for the thread-local strategy.
	// Defaults to 64.
	Shards int
}

// DefaultConfig returns a Global-strategy config recording everything.
func DefaultConfig() Config {
	return Config{
		Strategy:         types.StrategyGlobal,
		SampleRate:       1.0,
		MaxOverheadBytes: 256 * 1024 * 1024,
		Shards:           64,
	}
}

// Validate checks configuration ranges.
func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return types.NewTrackError(types.KindInvalidConfiguration,
			"unknown strategy %q", c.Strategy)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return types.NewTrackError(types.KindInvalidConfiguration,
			"sample rate %f outside [0, 1]", c.SampleRate)
	}
	if c.MaxOverheadBytes == 0 {
		return types.NewTrackError(types.KindInvalidConfiguration,
			"overhead budget must be > 0")
	}
	if c.Strategy == types.StrategyLockfreeBinary && c.LogDir == "" {
		return types.NewTrackError(types.KindInvalidConfiguration,
			"lockfree strategy requires a log directory")
	}
	return nil
}
