package passport_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/passport"
	"github.com/justapithecus/memtrace/types"
)

func newTracker(t *testing.T, cfg passport.Config) *passport.Tracker {
	t.Helper()
	store := dedup.NewStore(dedup.DefaultConfig(), nil)
	return passport.NewTracker(cfg, store, nil)
}

func TestCreatePassport(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())

	id, err := tr.CreatePassport(0x2000, 512, "vec_into_raw")
	if err != nil {
		t.Fatalf("CreatePassport failed: %v", err)
	}
	if id == "" {
		t.Fatalf("empty passport id")
	}

	p, ok := tr.Passport(0x2000)
	if !ok {
		t.Fatalf("passport not found after creation")
	}
	if p.SizeBytes != 512 {
		t.Errorf("size = %d, want 512", p.SizeBytes)
	}
	if len(p.Events) != 1 || p.Events[0].Kind != passport.EventAllocatedHere {
		t.Errorf("expected single allocated_here event, got %+v", p.Events)
	}
}

func TestCreatePassport_CapExhausted(t *testing.T) {
	cfg := passport.DefaultConfig()
	cfg.MaxPassports = 2
	tr := newTracker(t, cfg)

	for i := range 2 {
		if _, err := tr.CreatePassport(uint64(0x1000+i), 64, "ctx"); err != nil {
			t.Fatalf("CreatePassport(%d) failed: %v", i, err)
		}
	}
	_, err := tr.CreatePassport(0x9000, 64, "ctx")
	if !errors.Is(err, types.ErrResourceExhausted) {
		t.Errorf("expected ResourceExhausted at cap, got %v", err)
	}
}

func TestLeakDetection_HandedOutNotReclaimed(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())

	if _, err := tr.CreatePassport(0x2000, 512, "vec_into_raw"); err != nil {
		t.Fatalf("CreatePassport failed: %v", err)
	}
	if err := tr.RecordHandover(0x2000, "ffi_boundary", "malloc"); err != nil {
		t.Fatalf("RecordHandover failed: %v", err)
	}

	report := tr.DetectLeaksAtShutdown()
	if report.TotalLeaks != 1 {
		t.Fatalf("total_leaks = %d, want 1", report.TotalLeaks)
	}
	p, _ := tr.Passport(0x2000)
	if p.StatusAtShutdown != passport.StatusInForeignCustody {
		t.Errorf("status = %s, want in_foreign_custody", p.StatusAtShutdown)
	}
	if report.Details[0].SizeBytes != 512 {
		t.Errorf("leak detail size = %d, want 512", report.Details[0].SizeBytes)
	}
}

func TestLeakDetection_ReclaimPreventsLeak(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())

	_, _ = tr.CreatePassport(0x2000, 512, "vec_into_raw")
	_ = tr.RecordHandover(0x2000, "ffi_boundary", "process_buffer")
	_ = tr.RecordReclaimed(0x2000, "shutdown", "cleanup")

	report := tr.DetectLeaksAtShutdown()
	if report.TotalLeaks != 0 {
		t.Fatalf("total_leaks = %d, want 0", report.TotalLeaks)
	}
	p, _ := tr.Passport(0x2000)
	if p.StatusAtShutdown != passport.StatusReclaimedHere {
		t.Errorf("status = %s, want reclaimed_here", p.StatusAtShutdown)
	}
}

func TestLeakDetection_FreedByForeignIsClean(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())

	_, _ = tr.CreatePassport(0x3000, 64, "box_into_raw")
	_ = tr.RecordHandover(0x3000, "ffi", "take_buffer")
	_ = tr.RecordFreedByForeign(0x3000, "ffi", "free")

	report := tr.DetectLeaksAtShutdown()
	if report.TotalLeaks != 0 {
		t.Errorf("total_leaks = %d, want 0", report.TotalLeaks)
	}
	p, _ := tr.Passport(0x3000)
	if p.StatusAtShutdown != passport.StatusFreedByForeign {
		t.Errorf("status = %s, want freed_by_foreign", p.StatusAtShutdown)
	}
}

func TestLeakDetection_EmptyTracker(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())
	report := tr.DetectLeaksAtShutdown()
	if report.TotalLeaks != 0 {
		t.Errorf("empty tracker reported %d leaks", report.TotalLeaks)
	}
}

func TestEventSequenceMonotonic(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())

	_, _ = tr.CreatePassport(0x4000, 32, "ctx")
	for i := range 10 {
		_ = tr.RecordHandover(0x4000, fmt.Sprintf("hop-%d", i), "fn")
		_ = tr.RecordReclaimed(0x4000, fmt.Sprintf("hop-%d", i), "back")
	}

	p, _ := tr.Passport(0x4000)
	for i := 1; i < len(p.Events); i++ {
		if p.Events[i].Sequence <= p.Events[i-1].Sequence {
			t.Fatalf("sequence regressed at %d: %d <= %d", i, p.Events[i].Sequence, p.Events[i-1].Sequence)
		}
		if p.Events[i].Timestamp < p.Events[i-1].Timestamp {
			t.Fatalf("timestamp regressed at %d", i)
		}
	}
	if !tr.ValidatePassport(0x4000) {
		t.Errorf("ValidatePassport = false on a valid history")
	}
}

func TestEventBound_EvictionRetainsFoldedState(t *testing.T) {
	cfg := passport.DefaultConfig()
	cfg.MaxEventsPerPassport = 4
	tr := newTracker(t, cfg)

	_, _ = tr.CreatePassport(0x5000, 16, "ctx")
	_ = tr.RecordHandover(0x5000, "ffi", "fn")
	// Push enough boundary traffic to evict the handover event itself.
	for i := range 10 {
		_ = tr.RecordHandover(0x5000, fmt.Sprintf("again-%d", i), "fn")
	}

	p, _ := tr.Passport(0x5000)
	if len(p.Events) > 4 {
		t.Errorf("event history exceeded bound: %d", len(p.Events))
	}

	// The handover effect survives eviction: still a leak at shutdown.
	report := tr.DetectLeaksAtShutdown()
	if report.TotalLeaks != 1 {
		t.Errorf("folded state lost by eviction: total_leaks = %d, want 1", report.TotalLeaks)
	}
}

func TestValidatePassport_UnknownPtr(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())
	if tr.ValidatePassport(0xdead) {
		t.Errorf("ValidatePassport(unknown) = true, want false")
	}
}

func TestRecordEvent_UnknownPtr(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())
	err := tr.RecordHandover(0xdead, "ctx", "fn")
	if !errors.Is(err, types.ErrInvalidPointer) {
		t.Errorf("expected InvalidPointer, got %v", err)
	}
}

func TestStats(t *testing.T) {
	tr := newTracker(t, passport.DefaultConfig())
	_, _ = tr.CreatePassport(0x1, 1, "a")
	_, _ = tr.CreatePassport(0x2, 2, "b")
	_ = tr.RecordHandover(0x2, "ffi", "fn")

	stats := tr.Stats()
	if stats.TotalPassportsCreated != 2 {
		t.Errorf("created = %d, want 2", stats.TotalPassportsCreated)
	}
	if stats.PassportsByStatus[passport.StatusHandedOut] != 1 {
		t.Errorf("by_status[handed_out] = %d, want 1", stats.PassportsByStatus[passport.StatusHandedOut])
	}
	if stats.PassportsByStatus[passport.StatusAllocatedHere] != 1 {
		t.Errorf("by_status[allocated_here] = %d, want 1", stats.PassportsByStatus[passport.StatusAllocatedHere])
	}
}
