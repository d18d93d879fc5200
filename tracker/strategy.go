package tracker

import (
	"github.com/justapithecus/memtrace/types"
)

// Strategy is one concrete implementation of the allocation ledger.
// The dispatcher routes every sampled event to its single strategy.
//
// TrackAlloc and TrackDealloc must not block on I/O; the only allowed
// waits are brief mutex acquisitions and atomic read-modify-writes
// (the lockfree strategy buffers frames in memory and flushes to its
// log file in batches, which is a buffered write, not a sync).
type Strategy interface {
	// Kind identifies the strategy.
	Kind() types.StrategyKind

	// TrackAlloc records an allocation event.
	TrackAlloc(ev types.Event) error

	// TrackDealloc records a deallocation event. The global strategy
	// answers a pointer unknown to it with an InvalidPointer error; the
	// multi-thread strategies accept it without error, since
	// cross-thread deallocations are expected there.
	TrackDealloc(ev types.Event) error

	// Drain stops accepting events and returns every accumulated
	// allocation record. Called once, at stop or export time.
	Drain() ([]types.AllocationRecord, error)

	// OverheadBytes estimates the strategy's current memory footprint.
	OverheadBytes() uint64
}

// approxRecordOverhead is the bookkeeping estimate per active record,
// used against the overhead budget.
const approxRecordOverhead = 160
