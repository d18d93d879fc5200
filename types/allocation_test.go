package types_test

import (
	"testing"

	"github.com/justapithecus/memtrace/types"
)

func TestAllocationRecord_LifetimeDerivation(t *testing.T) {
	rec := types.AllocationRecord{
		Ptr:              0x1000,
		Size:             128,
		TimestampAllocNs: 5_000_000_000,
	}

	if _, ok := rec.LifetimeMs(); ok {
		t.Fatalf("active allocation must have no lifetime")
	}

	rec.MarkDeallocated(5_250_000_000)
	ms, ok := rec.LifetimeMs()
	if !ok {
		t.Fatalf("deallocated record must have a lifetime")
	}
	if ms != 250 {
		t.Errorf("lifetime = %dms, want 250ms", ms)
	}
	if *rec.TimestampDeallocNs < rec.TimestampAllocNs {
		t.Errorf("dealloc timestamp regressed below alloc timestamp")
	}
}

func TestAllocationRecord_RegressingClockClamps(t *testing.T) {
	rec := types.AllocationRecord{Ptr: 0x2000, TimestampAllocNs: 100}
	rec.MarkDeallocated(50)

	if *rec.TimestampDeallocNs != 100 {
		t.Errorf("dealloc ts = %d, want clamped to 100", *rec.TimestampDeallocNs)
	}
	ms, _ := rec.LifetimeMs()
	if ms != 0 {
		t.Errorf("clamped lifetime = %dms, want 0", ms)
	}
}

func TestStringRef_Zero(t *testing.T) {
	var zero types.StringRef
	if !zero.IsZero() {
		t.Errorf("zero value must report IsZero")
	}
	if (types.StringRef{Hash: 7, Len: 3}).IsZero() {
		t.Errorf("populated handle must not report IsZero")
	}
}

func TestStrategyKind_Valid(t *testing.T) {
	for _, s := range []types.StrategyKind{
		types.StrategyGlobal, types.StrategyThreadLocal, types.StrategyLockfreeBinary,
	} {
		if !s.Valid() {
			t.Errorf("strategy %q should be valid", s)
		}
	}
	if types.StrategyKind("adaptive").Valid() {
		t.Errorf("unknown strategy must be invalid")
	}
}
