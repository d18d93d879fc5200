package tracker_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/iox"
	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/tracker"
	"github.com/justapithecus/memtrace/types"
)

func mustNewDispatcher(t *testing.T, cfg tracker.Config) *tracker.Dispatcher {
	t.Helper()
	d, err := tracker.NewDispatcher(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d
}

func allocEvent(ptr, size, thread, ts uint64, varName, typeName string) types.Event {
	return types.Event{
		Ptr: ptr, Size: size, ThreadID: thread, TimestampNs: ts,
		VarName: varName, TypeName: typeName,
	}
}

func TestDispatcher_InvalidConfig(t *testing.T) {
	cases := []tracker.Config{
		{Strategy: "bogus", SampleRate: 1, MaxOverheadBytes: 1},
		{Strategy: types.StrategyGlobal, SampleRate: -0.1, MaxOverheadBytes: 1},
		{Strategy: types.StrategyGlobal, SampleRate: 1.5, MaxOverheadBytes: 1},
		{Strategy: types.StrategyGlobal, SampleRate: 1, MaxOverheadBytes: 0},
		{Strategy: types.StrategyLockfreeBinary, SampleRate: 1, MaxOverheadBytes: 1},
	}
	for i, cfg := range cases {
		if _, err := tracker.NewDispatcher(cfg, log.NewNop()); !errors.Is(err, types.ErrInvalidConfiguration) {
			t.Errorf("case %d: expected InvalidConfiguration, got %v", i, err)
		}
	}
}

func TestDispatcher_SingleAllocationRoundTrip(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.TrackAlloc(allocEvent(0x1000, 128, 1, 0, "v", "T")); err != nil {
		t.Fatalf("TrackAlloc failed: %v", err)
	}

	data, err := d.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	buf := iox.NewBufferFile()
	if _, err := buf.Write(data); err != nil {
		t.Fatalf("buffer write: %v", err)
	}
	r, err := export.NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Ptr != 0x1000 || rec.Size != 128 {
		t.Errorf("record = %+v", rec)
	}
	if rec.TimestampDeallocNs != nil {
		t.Errorf("unexpected dealloc timestamp on active allocation")
	}
	resolver := r.Resolver()
	if v, _ := resolver.LookupString(rec.VarNameRef); v != "v" {
		t.Errorf("var name = %q, want v", v)
	}
	if tn, _ := resolver.LookupString(rec.TypeNameRef); tn != "T" {
		t.Errorf("type name = %q, want T", tn)
	}
}

func TestDispatcher_StartTwiceIsNoop(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	if err := d.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("second Start must return nil, got %v", err)
	}
	if !d.Active() {
		t.Errorf("dispatcher inactive after double start")
	}
}

func TestDispatcher_StopTwiceIsNotActive(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	_ = d.Start()
	if _, err := d.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if _, err := d.Stop(); !errors.Is(err, types.ErrNotActive) {
		t.Errorf("second Stop = %v, want NotActive", err)
	}
}

func TestDispatcher_TrackBeforeStart(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	err := d.TrackAlloc(allocEvent(0x1, 1, 1, 1, "", ""))
	if !errors.Is(err, types.ErrNotActive) {
		t.Errorf("TrackAlloc before Start = %v, want NotActive", err)
	}
}

func TestDispatcher_SampleRateZeroDropsAll(t *testing.T) {
	cfg := tracker.DefaultConfig()
	cfg.SampleRate = 0
	d := mustNewDispatcher(t, cfg)
	_ = d.Start()

	for i := range 100 {
		_ = d.TrackAlloc(allocEvent(uint64(i)*16, 8, 1, uint64(i), "", ""))
	}
	stats := d.Statistics()
	if stats.EventsTracked != 0 {
		t.Errorf("events_tracked = %d, want 0 at rate 0", stats.EventsTracked)
	}
	if stats.EventsDropped != 100 {
		t.Errorf("events_dropped = %d, want 100", stats.EventsDropped)
	}
}

func TestDispatcher_SampleRateOneKeepsAll(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	_ = d.Start()
	for i := range 100 {
		_ = d.TrackAlloc(allocEvent(uint64(i)*16, 8, 1, uint64(i), "", ""))
	}
	stats := d.Statistics()
	if stats.EventsTracked != 100 {
		t.Errorf("events_tracked = %d, want 100 at rate 1", stats.EventsTracked)
	}
}

func TestDispatcher_GlobalDeallocUnknownPtrSwallowed(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	_ = d.Start()
	// Unknown pointer: InvalidPointer is non-fatal on the fast path;
	// the call logs and succeeds.
	if err := d.TrackDealloc(types.Event{Ptr: 0xdead, ThreadID: 1, TimestampNs: 1}); err != nil {
		t.Errorf("fast path surfaced non-fatal error: %v", err)
	}
}

func TestDispatcher_ThreadLocalCrossThreadDealloc(t *testing.T) {
	cfg := tracker.DefaultConfig()
	cfg.Strategy = types.StrategyThreadLocal
	d := mustNewDispatcher(t, cfg)
	_ = d.Start()

	// Allocate on thread 1, deallocate on thread 2.
	if err := d.TrackAlloc(allocEvent(0x7000, 64, 1, 10, "x", "X")); err != nil {
		t.Fatalf("TrackAlloc failed: %v", err)
	}
	if err := d.TrackDealloc(types.Event{Ptr: 0x7000, ThreadID: 2, TimestampNs: 20}); err != nil {
		t.Fatalf("cross-thread dealloc errored: %v", err)
	}

	data, err := d.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	records := readRecords(t, data)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].TimestampDeallocNs == nil || *records[0].TimestampDeallocNs != 20 {
		t.Errorf("cross-thread dealloc not paired: %+v", records[0])
	}
	if !records[0].CrossThreadDealloc {
		t.Errorf("cross-thread flag not set")
	}
}

func TestDispatcher_ThreadLocalConcurrent(t *testing.T) {
	cfg := tracker.DefaultConfig()
	cfg.Strategy = types.StrategyThreadLocal
	d := mustNewDispatcher(t, cfg)
	_ = d.Start()

	var wg sync.WaitGroup
	for thread := uint64(1); thread <= 8; thread++ {
		wg.Add(1)
		go func(tid uint64) {
			defer wg.Done()
			for i := range 100 {
				ptr := tid<<32 | uint64(i)
				_ = d.TrackAlloc(allocEvent(ptr, 32, tid, uint64(i+1), "", ""))
				if i%2 == 0 {
					_ = d.TrackDealloc(types.Event{Ptr: ptr, ThreadID: tid, TimestampNs: uint64(i + 2)})
				}
			}
		}(thread)
	}
	wg.Wait()

	data, err := d.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	records := readRecords(t, data)
	if len(records) != 800 {
		t.Errorf("got %d records, want 800", len(records))
	}
}

func TestDispatcher_LockfreeBinaryRoundTrip(t *testing.T) {
	cfg := tracker.DefaultConfig()
	cfg.Strategy = types.StrategyLockfreeBinary
	cfg.LogDir = t.TempDir()
	cfg.FlushBatch = 8
	d := mustNewDispatcher(t, cfg)
	_ = d.Start()

	for i := range 50 {
		_ = d.TrackAlloc(allocEvent(uint64(0x100+i*8), 16, 3, uint64(i+1), "buf", "Bytes"))
	}
	_ = d.TrackDealloc(types.Event{Ptr: 0x100, ThreadID: 3, TimestampNs: 60})

	data, err := d.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	records := readRecords(t, data)
	if len(records) != 50 {
		t.Fatalf("got %d records, want 50", len(records))
	}
	deallocated := 0
	for _, rec := range records {
		if rec.TimestampDeallocNs != nil {
			deallocated++
		}
	}
	if deallocated != 1 {
		t.Errorf("deallocated = %d, want 1", deallocated)
	}
}

func TestDispatcher_Statistics(t *testing.T) {
	d := mustNewDispatcher(t, tracker.DefaultConfig())
	_ = d.Start()
	_ = d.TrackAlloc(allocEvent(0x1, 100, 1, 1, "", ""))
	_ = d.TrackAlloc(allocEvent(0x2, 200, 1, 2, "", ""))

	stats := d.Statistics()
	if stats.EventsTracked != 2 {
		t.Errorf("events_tracked = %d, want 2", stats.EventsTracked)
	}
	if stats.BytesTracked != 300 {
		t.Errorf("bytes_tracked = %d, want 300", stats.BytesTracked)
	}
	if stats.OverheadBytes == 0 {
		t.Errorf("overhead_bytes = 0, want > 0")
	}
}

func readRecords(t *testing.T, data []byte) []types.AllocationRecord {
	t.Helper()
	buf := iox.NewBufferFile()
	if _, err := buf.Write(data); err != nil {
		t.Fatalf("buffer write: %v", err)
	}
	r, err := export.NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return records
}
