package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/types"
)

// globalStrategy keeps every active allocation in one lock-protected
// map. Simplest and lowest-memory of the strategies; contention grows
// with concurrency. Unknown pointers on deallocation are hard errors
// here because a single ledger sees every event.
type globalStrategy struct {
	store *dedup.Store

	mu        sync.Mutex
	active    map[uint64]*types.AllocationRecord
	completed []types.AllocationRecord
	drained   bool

	overhead atomic.Uint64
}

func newGlobalStrategy(store *dedup.Store) *globalStrategy {
	return &globalStrategy{
		store:  store,
		active: make(map[uint64]*types.AllocationRecord),
	}
}

func (g *globalStrategy) Kind() types.StrategyKind { return types.StrategyGlobal }

func (g *globalStrategy) TrackAlloc(ev types.Event) error {
	rec, err := buildRecord(ev, g.store)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.drained {
		return types.NewTrackError(types.KindNotActive, "strategy drained")
	}
	g.active[ev.Ptr] = &rec
	g.overhead.Add(approxRecordOverhead)
	return nil
}

func (g *globalStrategy) TrackDealloc(ev types.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.drained {
		return types.NewTrackError(types.KindNotActive, "strategy drained")
	}
	rec, ok := g.active[ev.Ptr]
	if !ok {
		return types.NewTrackError(types.KindInvalidPointer,
			"dealloc of untracked pointer 0x%x", ev.Ptr)
	}
	rec.MarkDeallocated(ev.TimestampNs)
	if rec.ThreadID != ev.ThreadID {
		rec.CrossThreadDealloc = true
	}
	g.completed = append(g.completed, *rec)
	delete(g.active, ev.Ptr)
	return nil
}

func (g *globalStrategy) Drain() ([]types.AllocationRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drained = true

	out := make([]types.AllocationRecord, 0, len(g.completed)+len(g.active))
	out = append(out, g.completed...)
	out = append(out, sortedActive(g.active)...)
	g.active = make(map[uint64]*types.AllocationRecord)
	g.completed = nil
	return out, nil
}

func (g *globalStrategy) OverheadBytes() uint64 {
	return g.overhead.Load()
}

// buildRecord converts a raw event into a ledger record, interning the
// string-like fields.
func buildRecord(ev types.Event, store *dedup.Store) (types.AllocationRecord, error) {
	rec := types.AllocationRecord{
		Ptr:              ev.Ptr,
		Size:             ev.Size,
		ThreadID:         ev.ThreadID,
		TimestampAllocNs: ev.TimestampNs,
	}
	if store == nil {
		return rec, nil
	}
	var err error
	if rec.TypeNameRef, err = store.InternString(ev.TypeName); err != nil {
		return rec, err
	}
	if rec.VarNameRef, err = store.InternString(ev.VarName); err != nil {
		return rec, err
	}
	if rec.ScopeNameRef, err = store.InternString(ev.ScopeName); err != nil {
		return rec, err
	}
	if len(ev.CallStack) > 0 {
		if rec.StackRef, err = store.InternStack(ev.CallStack); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
