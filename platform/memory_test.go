package platform_test

import (
	"testing"

	"github.com/justapithecus/memtrace/platform"
)

func TestCurrent_RuntimeFieldsAlwaysPresent(t *testing.T) {
	info := platform.Current()
	if info.HeapAlloc == 0 {
		t.Errorf("heap_alloc = 0; runtime stats must always be present")
	}
	if info.HeapSys == 0 {
		t.Errorf("heap_sys = 0")
	}
}

func TestTracker_PeakGrowsWithAllocations(t *testing.T) {
	tracker := platform.NewTracker()

	// Allocate something sizable and sample.
	hold := make([][]byte, 0, 64)
	for range 64 {
		hold = append(hold, make([]byte, 1<<20))
		tracker.Sample()
	}
	_ = hold

	if tracker.PeakIncrease() == 0 {
		t.Errorf("peak increase = 0 after allocating 64 MiB")
	}
}
