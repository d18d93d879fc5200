package metrics_test

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/justapithecus/memtrace/metrics"
)

func TestCollector_Counters(t *testing.T) {
	c := metrics.NewCollector("global", "s-1")
	c.IncSessionStarted()
	c.IncSessionStopped()
	c.IncExportSuccess()
	c.AddExported(100, 2)
	c.AddPassports(3, 1)
	c.AbsorbTrackerStats(100, 5, 4096, 512)

	snap := c.Snapshot()
	if snap.SessionsStarted != 1 || snap.SessionsStopped != 1 {
		t.Errorf("session counters wrong: %+v", snap)
	}
	if snap.RecordsExported != 100 || snap.ChunksWritten != 2 {
		t.Errorf("export counters wrong: %+v", snap)
	}
	if snap.EventsTracked != 100 || snap.EventsDropped != 5 {
		t.Errorf("tracker stats not absorbed: %+v", snap)
	}
	if snap.LeaksDetected != 1 {
		t.Errorf("leaks_detected = %d, want 1", snap.LeaksDetected)
	}
	if snap.Strategy != "global" || snap.SessionID != "s-1" {
		t.Errorf("dimensions wrong: %+v", snap)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *metrics.Collector
	c.IncSessionStarted()
	c.AddExported(1, 1)
	if snap := c.Snapshot(); snap.SessionsStarted != 0 {
		t.Errorf("nil collector produced counters")
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := metrics.NewCollector("thread_local", "s-2")
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncExportSuccess()
			}
		}()
	}
	wg.Wait()
	if snap := c.Snapshot(); snap.ExportSuccess != 1600 {
		t.Errorf("export_success = %d, want 1600", snap.ExportSuccess)
	}
}

func TestExporter_RegistersAndCollects(t *testing.T) {
	c := metrics.NewCollector("global", "s-3")
	c.IncSessionStarted()
	c.AbsorbTrackerStats(42, 0, 1024, 64)

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewExporter(c)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "memtrace_events_tracked_total" {
			found = true
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 42 {
				t.Errorf("events_tracked = %f, want 42", v)
			}
		}
	}
	if !found {
		t.Errorf("memtrace_events_tracked_total not gathered")
	}
}
