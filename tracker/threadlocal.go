package tracker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/types"
)

// threadLocalStrategy shards the ledger by thread so the hot path never
// takes a cross-thread lock. Each shard has its own mutex, touched only
// by threads hashing to it; global statistics use atomics only.
//
// Deallocations of pointers allocated on another thread are expected:
// they are parked in the deallocating thread's shard and paired with
// their allocation during Drain.
type threadLocalStrategy struct {
	store  *dedup.Store
	shards []*shard
	mask   uint64

	drained     atomic.Bool
	overhead    atomic.Uint64
	crossThread atomic.Uint64
}

type shard struct {
	mu              sync.Mutex
	active          map[uint64]*types.AllocationRecord
	completed       []types.AllocationRecord
	pendingDeallocs []types.Event
}

func newThreadLocalStrategy(store *dedup.Store, shards int) *threadLocalStrategy {
	if shards <= 0 {
		shards = 64
	}
	// Round up to a power of two for mask indexing.
	n := 1
	for n < shards {
		n <<= 1
	}
	s := &threadLocalStrategy{
		store:  store,
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{active: make(map[uint64]*types.AllocationRecord)}
	}
	return s
}

func (t *threadLocalStrategy) Kind() types.StrategyKind { return types.StrategyThreadLocal }

func (t *threadLocalStrategy) shardFor(threadID uint64) *shard {
	return t.shards[threadID&t.mask]
}

func (t *threadLocalStrategy) TrackAlloc(ev types.Event) error {
	if t.drained.Load() {
		return types.NewTrackError(types.KindNotActive, "strategy drained")
	}
	rec, err := buildRecord(ev, t.store)
	if err != nil {
		return err
	}

	sh := t.shardFor(ev.ThreadID)
	sh.mu.Lock()
	sh.active[ev.Ptr] = &rec
	sh.mu.Unlock()
	t.overhead.Add(approxRecordOverhead)
	return nil
}

func (t *threadLocalStrategy) TrackDealloc(ev types.Event) error {
	if t.drained.Load() {
		return types.NewTrackError(types.KindNotActive, "strategy drained")
	}

	sh := t.shardFor(ev.ThreadID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if rec, ok := sh.active[ev.Ptr]; ok {
		rec.MarkDeallocated(ev.TimestampNs)
		if rec.ThreadID != ev.ThreadID {
			rec.CrossThreadDealloc = true
		}
		sh.completed = append(sh.completed, *rec)
		delete(sh.active, ev.Ptr)
		return nil
	}
	// Allocated on another thread (or never tracked). Park the event
	// for pairing at drain time; this is the expected cross-thread
	// case, not an error.
	sh.pendingDeallocs = append(sh.pendingDeallocs, ev)
	t.crossThread.Add(1)
	return nil
}

// Drain aggregates all shards: completed records first, then pending
// cross-thread deallocations paired against the remaining active set,
// then still-active allocations.
func (t *threadLocalStrategy) Drain() ([]types.AllocationRecord, error) {
	t.drained.Store(true)

	merged := make(map[uint64]*types.AllocationRecord)
	var completed []types.AllocationRecord
	var pending []types.Event
	for _, sh := range t.shards {
		sh.mu.Lock()
		completed = append(completed, sh.completed...)
		for ptr, rec := range sh.active {
			merged[ptr] = rec
		}
		pending = append(pending, sh.pendingDeallocs...)
		sh.completed = nil
		sh.active = make(map[uint64]*types.AllocationRecord)
		sh.pendingDeallocs = nil
		sh.mu.Unlock()
	}

	for _, ev := range pending {
		rec, ok := merged[ev.Ptr]
		if !ok {
			// Never tracked; dropped by sampling or pre-session.
			continue
		}
		rec.MarkDeallocated(ev.TimestampNs)
		rec.CrossThreadDealloc = rec.ThreadID != ev.ThreadID
		completed = append(completed, *rec)
		delete(merged, ev.Ptr)
	}

	return append(completed, sortedActive(merged)...), nil
}

func (t *threadLocalStrategy) OverheadBytes() uint64 {
	return t.overhead.Load()
}

// CrossThreadDeallocs reports how many deallocations arrived on a
// thread other than the allocating one.
func (t *threadLocalStrategy) CrossThreadDeallocs() uint64 {
	return t.crossThread.Load()
}

// sortedActive flattens an active-record map ordered by allocation
// time, ties broken by pointer for determinism.
func sortedActive(active map[uint64]*types.AllocationRecord) []types.AllocationRecord {
	out := make([]types.AllocationRecord, 0, len(active))
	for _, rec := range active {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampAllocNs != out[j].TimestampAllocNs {
			return out[i].TimestampAllocNs < out[j].TimestampAllocNs
		}
		return out[i].Ptr < out[j].Ptr
	})
	return out
}
