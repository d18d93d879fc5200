package export

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/justapithecus/memtrace/platform"
	"github.com/justapithecus/memtrace/types"
)

// ProcessorConfig controls the selective field processor.
type ProcessorConfig struct {
	// MaxCacheEntries caps the formatted-field LRU cache.
	MaxCacheEntries int
	// MaxCacheMemoryBytes budgets the cache's string payloads. When
	// exceeded, LRU entries are evicted until the high-water mark is
	// reclaimed.
	MaxCacheMemoryBytes uint64
	// HighWaterFraction of the memory budget to reclaim down to.
	HighWaterFraction float64
	// PreformatFields renders each requested field to text eagerly and
	// caches it.
	PreformatFields bool
	// SampleMemoryEvery controls how often (in records) the processor
	// samples heap usage for the peak-memory statistic.
	SampleMemoryEvery int
}

// DefaultProcessorConfig returns balanced processor defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxCacheEntries:     4096,
		MaxCacheMemoryBytes: 16 * 1024 * 1024,
		HighWaterFraction:   0.75,
		PreformatFields:     true,
		SampleMemoryEvery:   1024,
	}
}

// ProcessorStats is the required reader statistics set plus derived
// metrics.
type ProcessorStats struct {
	RecordsProcessed uint64        `json:"records_processed"`
	FieldsProcessed  uint64        `json:"fields_processed"`
	CacheHits        uint64        `json:"cache_hits"`
	CacheMisses      uint64        `json:"cache_misses"`
	CacheEvictions   uint64        `json:"cache_evictions"`
	PreformattedUsed uint64        `json:"preformatted_fields_used"`
	PeakMemoryBytes  uint64        `json:"peak_memory_bytes"`
	ProcessingTime   time.Duration `json:"processing_time_ns"`
}

// CacheHitRate returns the cache hit percentage.
func (s ProcessorStats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return 100 * float64(s.CacheHits) / float64(total)
}

// Throughput returns records per second.
func (s ProcessorStats) Throughput() float64 {
	if s.ProcessingTime <= 0 {
		return 0
	}
	return float64(s.RecordsProcessed) / s.ProcessingTime.Seconds()
}

// OptimizedRecord is one selectively parsed record handed to the
// consumer callback, with optional preformatted field text.
type OptimizedRecord struct {
	Index     uint64
	Partial   types.PartialAllocationInfo
	formatted map[types.AllocationField]string
}

// FormattedField returns the cached textual form of a field, if it was
// preformatted.
func (r *OptimizedRecord) FormattedField(field types.AllocationField) (string, bool) {
	s, ok := r.formatted[field]
	return s, ok
}

// cacheKey identifies one formatted field in the LRU.
type cacheKey struct {
	record uint64
	field  types.AllocationField
}

// FieldProcessor streams records from a reader, parsing only the
// requested fields. Memory stays constant: one chunk of records at a
// time, one OptimizedRecord handed to the callback and discarded.
// It is synchronous and cooperative, yielding between records through
// the callback return value.
type FieldProcessor struct {
	reader   *Reader
	config   ProcessorConfig
	resolver Resolver

	cache      *lru.Cache[cacheKey, string]
	cacheBytes uint64
	stats      ProcessorStats
}

// NewFieldProcessor creates a processor over an open reader.
func NewFieldProcessor(reader *Reader, config ProcessorConfig) (*FieldProcessor, error) {
	if config.MaxCacheEntries <= 0 {
		config.MaxCacheEntries = DefaultProcessorConfig().MaxCacheEntries
	}
	if config.HighWaterFraction <= 0 || config.HighWaterFraction > 1 {
		config.HighWaterFraction = DefaultProcessorConfig().HighWaterFraction
	}
	if config.SampleMemoryEvery <= 0 {
		config.SampleMemoryEvery = DefaultProcessorConfig().SampleMemoryEvery
	}

	p := &FieldProcessor{
		reader:   reader,
		config:   config,
		resolver: reader.Resolver(),
	}
	cache, err := lru.NewWithEvict[cacheKey, string](config.MaxCacheEntries, p.onEvict)
	if err != nil {
		return nil, types.WrapTrackError(types.KindInvalidConfiguration, err, "build field cache")
	}
	p.cache = cache
	return p, nil
}

// onEvict keeps the memory accounting and eviction count in step with
// the LRU.
func (p *FieldProcessor) onEvict(_ cacheKey, value string) {
	p.stats.CacheEvictions++
	if size := uint64(len(value)); size <= p.cacheBytes {
		p.cacheBytes -= size
	} else {
		p.cacheBytes = 0
	}
}

// Process streams every record passing the filters, projecting each
// onto the requested fields and handing it to fn. Returning an error
// from fn stops the scan; the error propagates.
func (p *FieldProcessor) Process(fields types.FieldSet, filters []Filter, fn func(*OptimizedRecord) error) (ProcessorStats, error) {
	start := time.Now()
	memTracker := platform.NewTracker()
	engine := NewFilterEngine(p.reader)

	var index uint64
	err := engine.Query(filters, func(rec *types.AllocationRecord) error {
		optimized := OptimizedRecord{
			Index:   index,
			Partial: p.project(rec, fields),
		}
		if p.config.PreformatFields {
			optimized.formatted = p.preformat(index, rec, fields)
		}
		index++
		p.stats.RecordsProcessed++
		if p.stats.RecordsProcessed%uint64(p.config.SampleMemoryEvery) == 0 {
			memTracker.Sample()
		}
		return fn(&optimized)
	})

	memTracker.Sample()
	p.stats.PeakMemoryBytes = memTracker.PeakIncrease()
	p.stats.ProcessingTime += time.Since(start)
	return p.stats, err
}

// project parses only the requested fields into the partial view.
func (p *FieldProcessor) project(rec *types.AllocationRecord, fields types.FieldSet) types.PartialAllocationInfo {
	var out types.PartialAllocationInfo
	if fields.Has(types.FieldPtr) {
		v := rec.Ptr
		out.Ptr = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldSize) {
		v := rec.Size
		out.Size = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldThreadID) {
		v := rec.ThreadID
		out.ThreadID = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldTimestampAlloc) {
		v := rec.TimestampAllocNs
		out.TimestampAlloc = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldTimestampDealloc) && rec.TimestampDeallocNs != nil {
		v := *rec.TimestampDeallocNs
		out.TimestampDealloc = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldVarName) {
		if s, err := p.resolver.LookupString(rec.VarNameRef); err == nil && s != "" {
			out.VarName = &s
		}
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldTypeName) {
		if s, err := p.resolver.LookupString(rec.TypeNameRef); err == nil && s != "" {
			out.TypeName = &s
		}
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldScopeName) {
		if s, err := p.resolver.LookupString(rec.ScopeNameRef); err == nil && s != "" {
			out.ScopeName = &s
		}
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldBorrowCount) && rec.Borrow != nil {
		v := rec.Borrow.ImmutableCount + rec.Borrow.MutableCount
		out.BorrowCount = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldIsLeaked) {
		v := rec.IsLeaked
		out.IsLeaked = &v
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldStackTrace) && !rec.StackRef.IsZero() {
		if frames, err := p.resolver.LookupStack(rec.StackRef); err == nil {
			out.StackTrace = frames
		}
		p.stats.FieldsProcessed++
	}
	if fields.Has(types.FieldLifetimeMs) {
		if ms, ok := rec.LifetimeMs(); ok {
			out.LifetimeMs = &ms
		}
		p.stats.FieldsProcessed++
	}
	return out
}

// preformat renders each requested field to text through the LRU
// cache, evicting down to the high-water mark when the memory budget
// is exceeded.
func (p *FieldProcessor) preformat(index uint64, rec *types.AllocationRecord, fields types.FieldSet) map[types.AllocationField]string {
	out := make(map[types.AllocationField]string, len(fields))
	for field := range fields {
		key := cacheKey{record: index, field: field}
		if cached, ok := p.cache.Get(key); ok {
			p.stats.CacheHits++
			p.stats.PreformattedUsed++
			out[field] = cached
			continue
		}
		p.stats.CacheMisses++
		text := p.formatField(rec, field)
		out[field] = text
		p.cache.Add(key, text)
		p.cacheBytes += uint64(len(text))
		p.enforceMemoryBudget()
	}
	return out
}

// enforceMemoryBudget evicts LRU entries until the cache drops to the
// high-water mark.
func (p *FieldProcessor) enforceMemoryBudget() {
	if p.config.MaxCacheMemoryBytes == 0 || p.cacheBytes <= p.config.MaxCacheMemoryBytes {
		return
	}
	target := uint64(float64(p.config.MaxCacheMemoryBytes) * p.config.HighWaterFraction)
	for p.cacheBytes > target && p.cache.Len() > 0 {
		p.cache.RemoveOldest()
	}
}

// formatField renders one field as text.
func (p *FieldProcessor) formatField(rec *types.AllocationRecord, field types.AllocationField) string {
	switch field {
	case types.FieldPtr:
		return fmt.Sprintf("0x%x", rec.Ptr)
	case types.FieldSize:
		return fmt.Sprintf("%d", rec.Size)
	case types.FieldThreadID:
		return fmt.Sprintf("%d", rec.ThreadID)
	case types.FieldTimestampAlloc:
		return fmt.Sprintf("%d", rec.TimestampAllocNs)
	case types.FieldTimestampDealloc:
		if rec.TimestampDeallocNs == nil {
			return ""
		}
		return fmt.Sprintf("%d", *rec.TimestampDeallocNs)
	case types.FieldVarName:
		s, _ := p.resolver.LookupString(rec.VarNameRef)
		return s
	case types.FieldTypeName:
		s, _ := p.resolver.LookupString(rec.TypeNameRef)
		return s
	case types.FieldScopeName:
		s, _ := p.resolver.LookupString(rec.ScopeNameRef)
		return s
	case types.FieldBorrowCount:
		if rec.Borrow == nil {
			return "0"
		}
		return fmt.Sprintf("%d", rec.Borrow.ImmutableCount+rec.Borrow.MutableCount)
	case types.FieldIsLeaked:
		return fmt.Sprintf("%v", rec.IsLeaked)
	case types.FieldStackTrace:
		frames, err := p.resolver.LookupStack(rec.StackRef)
		if err != nil || len(frames) == 0 {
			return ""
		}
		parts := make([]string, len(frames))
		for i, f := range frames {
			parts[i] = fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
		}
		return strings.Join(parts, "; ")
	case types.FieldLifetimeMs:
		if ms, ok := rec.LifetimeMs(); ok {
			return fmt.Sprintf("%d", ms)
		}
		return ""
	default:
		return ""
	}
}

// Stats returns the accumulated processor statistics.
func (p *FieldProcessor) Stats() ProcessorStats { return p.stats }

// ResetStats clears the statistics.
func (p *FieldProcessor) ResetStats() { p.stats = ProcessorStats{} }

// ClearCache drops every cached formatted field.
func (p *FieldProcessor) ClearCache() {
	p.cache.Purge()
	p.cacheBytes = 0
}

// CacheSize returns the current cache entry count.
func (p *FieldProcessor) CacheSize() int { return p.cache.Len() }
