// Package jsonload discovers and loads the categorized JSON analysis
// files consumed by the HTML report command.
//
// Files are discovered by category suffix, validated to be a JSON
// object or array, and loaded in parallel when the set is large enough
// to benefit (>= 3 files or >= 10 MB cumulative).
package jsonload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/types"
)

// Category identifies one analysis file kind.
type Category string

const (
	CategoryMemoryAnalysis Category = "memory_analysis"
	CategoryLifetime       Category = "lifetime"
	CategoryPerformance    Category = "performance"
	CategoryUnsafeFFI      Category = "unsafe_ffi"
	CategoryComplexTypes   Category = "complex_types"
)

// categorySuffixes maps file-name suffixes to categories.
var categorySuffixes = map[string]Category{
	"_memory_analysis.json": CategoryMemoryAnalysis,
	"_lifetime.json":        CategoryLifetime,
	"_performance.json":     CategoryPerformance,
	"_unsafe_ffi.json":      CategoryUnsafeFFI,
	"_complex_types.json":   CategoryComplexTypes,
}

// Parallel-loading thresholds.
const (
	parallelMinFiles = 3
	parallelMinBytes = 10 * 1024 * 1024
)

// FileResult is the outcome of loading one file.
type FileResult struct {
	Path      string        `json:"path"`
	Category  Category      `json:"category"`
	SizeBytes int64         `json:"size_bytes"`
	LoadTime  time.Duration `json:"load_time_ns"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	// Data is the decoded document: a map for objects, a slice for
	// arrays. Nil on failure.
	Data any `json:"-"`
}

// LoadResult is the outcome of one directory load.
type LoadResult struct {
	Files           []FileResult  `json:"files"`
	TotalBytes      int64         `json:"total_bytes"`
	ParallelLoading bool          `json:"parallel_loading_used"`
	TotalTime       time.Duration `json:"total_time_ns"`
}

// ByCategory groups the successfully loaded documents.
func (r *LoadResult) ByCategory() map[Category][]FileResult {
	out := make(map[Category][]FileResult)
	for _, f := range r.Files {
		if f.Success {
			out[f.Category] = append(out[f.Category], f)
		}
	}
	return out
}

// Failures returns the files that failed to load.
func (r *LoadResult) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if !f.Success {
			out = append(out, f)
		}
	}
	return out
}

// Discover finds categorized JSON files in dir, sorted by path.
func Discover(dir string) ([]FileResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "read dir %s", dir)
	}

	var files []FileResult
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		category, ok := categoryOf(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileResult{
			Path:      filepath.Join(dir, e.Name()),
			Category:  category,
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func categoryOf(name string) (Category, bool) {
	for suffix, category := range categorySuffixes {
		if strings.HasSuffix(name, suffix) {
			return category, true
		}
	}
	return "", false
}

// Load discovers and loads every categorized file in dir. The parallel
// path is taken when >= 3 files or >= 10 MB cumulative; otherwise
// files load sequentially. A nil logger disables logging.
func Load(dir string, logger *log.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	start := time.Now()

	files, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.SizeBytes
	}
	useParallel := len(files) >= parallelMinFiles || totalBytes >= parallelMinBytes

	logger.Info("loading analysis files", map[string]any{
		"dir":      dir,
		"files":    len(files),
		"bytes":    totalBytes,
		"parallel": useParallel,
	})

	if useParallel {
		loadParallel(files)
	} else {
		for i := range files {
			loadOne(&files[i])
		}
	}

	return &LoadResult{
		Files:           files,
		TotalBytes:      totalBytes,
		ParallelLoading: useParallel,
		TotalTime:       time.Since(start),
	}, nil
}

// loadParallel loads every file concurrently, one goroutine per file.
func loadParallel(files []FileResult) {
	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(f *FileResult) {
			defer wg.Done()
			loadOne(f)
		}(&files[i])
	}
	wg.Wait()
}

// loadOne reads, parses, and validates a single file in place.
func loadOne(f *FileResult) {
	start := time.Now()
	defer func() { f.LoadTime = time.Since(start) }()

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		f.Error = fmt.Sprintf("read: %v", err)
		return
	}
	f.SizeBytes = int64(len(raw))

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		f.Error = fmt.Sprintf("parse: %v", err)
		return
	}
	// The report consumes objects and arrays; scalars are malformed
	// analysis output.
	switch doc.(type) {
	case map[string]any, []any:
		f.Data = doc
		f.Success = true
	default:
		f.Error = "document is neither object nor array"
	}
}
