// Package reader provides the read-side data access layer for the
// memtrace CLI.
//
// This package isolates read-only commands from the export internals:
// commands consume the view structs defined here, never the container
// format directly.
package reader

import (
	"sort"
	"time"

	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/types"
)

// FileSummary is the inspect view of one binary export file.
type FileSummary struct {
	Path              string    `json:"path"`
	FormatVersion     uint32    `json:"format_version"`
	CompressionFormat string    `json:"compression_format"`
	CreatedAt         time.Time `json:"created_at"`
	AllocationCount   uint64    `json:"allocation_count"`
	TotalMemoryBytes  uint64    `json:"total_memory_bytes"`
	Chunks            int       `json:"chunks"`
	Indexed           bool      `json:"indexed"`
	InternedStrings   int       `json:"interned_strings"`
	InternedStacks    int       `json:"interned_stacks"`
	TaskProfiles      int       `json:"task_profiles"`
}

// TypeCount pairs a type name with its record count.
type TypeCount struct {
	TypeName string `json:"type_name"`
	Count    int    `json:"count"`
}

// FileStats is the stats view of one binary export file.
type FileStats struct {
	Records         uint64      `json:"records"`
	Active          int         `json:"active"`
	Deallocated     int         `json:"deallocated"`
	Leaked          int         `json:"leaked"`
	CrossThread     int         `json:"cross_thread_deallocs"`
	TotalBytes      uint64      `json:"total_bytes"`
	DistinctThreads int         `json:"distinct_threads"`
	TopTypes        []TypeCount `json:"top_types"`
}

// InspectFile summarizes a binary export file from its header alone;
// no record chunk is loaded.
func InspectFile(path string) (*FileSummary, error) {
	r, err := export.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	pre := r.Preamble()
	header := r.Header()

	profiles := 0
	for _, c := range header.Chunks {
		if c.DataType == export.ChunkTypeTaskProfiles {
			profiles++
		}
	}
	return &FileSummary{
		Path:              path,
		FormatVersion:     pre.Version,
		CompressionFormat: header.CompressionFormat,
		CreatedAt:         time.Unix(int64(pre.CreatedAtUnixS), 0).UTC(),
		AllocationCount:   pre.AllocationCount,
		TotalMemoryBytes:  pre.TotalMemoryBytes,
		Chunks:            len(header.Chunks),
		Indexed:           header.Index != nil,
		InternedStrings:   len(header.Strings),
		InternedStacks:    len(header.Stacks),
		TaskProfiles:      profiles,
	}, nil
}

// StatsFile aggregates record-level statistics with one streaming
// pass.
func StatsFile(path string) (*FileStats, error) {
	r, err := export.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	resolver := r.Resolver()
	stats := &FileStats{Records: r.AllocationCount()}
	threads := make(map[uint64]struct{})
	typeCounts := make(map[string]int)

	err = r.Records(func(rec *types.AllocationRecord) error {
		stats.TotalBytes += rec.Size
		threads[rec.ThreadID] = struct{}{}
		if rec.Active() {
			stats.Active++
		} else {
			stats.Deallocated++
		}
		if rec.IsLeaked {
			stats.Leaked++
		}
		if rec.CrossThreadDealloc {
			stats.CrossThread++
		}
		if name, err := resolver.LookupString(rec.TypeNameRef); err == nil && name != "" {
			typeCounts[name]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.DistinctThreads = len(threads)
	stats.TopTypes = topTypes(typeCounts, 10)
	return stats, nil
}

// topTypes returns the n most frequent types, count-descending with
// name ascending as tie-break for stable output.
func topTypes(counts map[string]int, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, TypeCount{TypeName: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TypeName < out[j].TypeName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
