// Package platform reads process and system memory facts for the
// reader statistics and CLI surfaces.
package platform

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryInfo is a point-in-time view of memory usage.
type MemoryInfo struct {
	// ProcessRSS is the resident set size of this process in bytes.
	ProcessRSS uint64 `json:"process_rss_bytes"`
	// ProcessVMS is the virtual size of this process in bytes.
	ProcessVMS uint64 `json:"process_vms_bytes"`
	// HeapAlloc is the Go heap in use, from the runtime.
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
	// HeapSys is the Go heap reserved from the OS.
	HeapSys uint64 `json:"heap_sys_bytes"`
	// SystemTotal is total physical memory in bytes.
	SystemTotal uint64 `json:"system_total_bytes"`
	// SystemAvailable is available physical memory in bytes.
	SystemAvailable uint64 `json:"system_available_bytes"`
}

// Current samples memory usage. Failures from the OS probes degrade to
// zero fields; the runtime numbers are always present.
func Current() MemoryInfo {
	var info MemoryInfo

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapAlloc = ms.HeapAlloc
	info.HeapSys = ms.HeapSys

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			info.ProcessRSS = mi.RSS
			info.ProcessVMS = mi.VMS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.SystemTotal = vm.Total
		info.SystemAvailable = vm.Available
	}
	return info
}

// Tracker watches for the peak heap footprint across samples.
type Tracker struct {
	baseline uint64
	peak     uint64
}

// NewTracker captures the current heap as the baseline.
func NewTracker() *Tracker {
	base := Current().HeapAlloc
	return &Tracker{baseline: base, peak: base}
}

// Sample updates the peak.
func (t *Tracker) Sample() {
	if alloc := Current().HeapAlloc; alloc > t.peak {
		t.peak = alloc
	}
}

// PeakIncrease returns the peak heap growth since the baseline.
func (t *Tracker) PeakIncrease() uint64 {
	if t.peak <= t.baseline {
		return 0
	}
	return t.peak - t.baseline
}
