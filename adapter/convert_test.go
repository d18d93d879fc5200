package adapter_test

import (
	"testing"
	"time"

	"github.com/justapithecus/memtrace/adapter"
	"github.com/justapithecus/memtrace/passport"
)

func TestFromLeakReport(t *testing.T) {
	report := passport.LeakReport{
		TotalLeaks:      2,
		LeakedPassports: []string{"p-1", "p-2"},
		Details: []passport.LeakDetail{
			{PassportID: "p-1", MemoryAddress: 0x1000, SizeBytes: 512, LastContext: "ffi_a"},
			{PassportID: "p-2", MemoryAddress: 0x2000, SizeBytes: 256, LastContext: "ffi_b"},
		},
	}

	event := adapter.FromLeakReport(report, "s-1", "global", 1000, 2*time.Second)
	if event.TotalLeaks != 2 || event.LeakedBytes != 768 {
		t.Errorf("event totals wrong: %+v", event)
	}
	if len(event.Leaks) != 2 || event.Leaks[1].Address != 0x2000 {
		t.Errorf("leak entries wrong: %+v", event.Leaks)
	}
	if event.DurationMs != 2000 || event.EventsTracked != 1000 {
		t.Errorf("session stats wrong: %+v", event)
	}
	if event.EventType != "leak_report" {
		t.Errorf("event type = %q", event.EventType)
	}
}
