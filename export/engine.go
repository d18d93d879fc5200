package export

import (
	"encoding/binary"
	"time"

	"github.com/justapithecus/memtrace/types"
)

// FilterStats counts the work each filtering level performed.
type FilterStats struct {
	TotalOperations     uint64 `json:"total_operations"`
	IndexFilteredOut    uint64 `json:"index_filtered_out"`
	BloomFilteredOut    uint64 `json:"bloom_filtered_out"`
	PreciseFilteredOut  uint64 `json:"precise_filtered_out"`
	IndexFilterTimeUs   uint64 `json:"index_filter_time_us"`
	BloomFilterTimeUs   uint64 `json:"bloom_filter_time_us"`
	PreciseFilterTimeUs uint64 `json:"precise_filter_time_us"`
}

// IndexEfficiency is the fraction of records the index level pruned.
func (s FilterStats) IndexEfficiency(total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(s.IndexFilteredOut) / float64(total)
}

// FilterEngine runs the three-level filter pipeline over a reader:
//
//  1. Index pre-filter: prune whole batches whose (min,max) window
//     cannot overlap a range predicate. The dominant cost saver.
//  2. Bloom check: for string equality predicates with a bloom filter,
//     skip batches whose bloom misses. False positives fall through to
//     level 3; false negatives cannot happen.
//  3. Precise filter: load surviving batches and apply every predicate
//     in full. Only this level produces the final verdict.
//
// Predicates are optimized (deduplicated, selectivity-ordered) before
// dispatch.
type FilterEngine struct {
	reader *Reader
	stats  FilterStats
}

// NewFilterEngine creates an engine over an open reader.
func NewFilterEngine(reader *Reader) *FilterEngine {
	return &FilterEngine{reader: reader}
}

// Query streams every record matching all filters, in file order.
// The same filter list always produces identical output.
func (e *FilterEngine) Query(filters []Filter, fn func(*types.AllocationRecord) error) error {
	e.stats.TotalOperations++
	filters = OptimizeFilters(filters)
	resolver := e.reader.Resolver()

	chunks := e.reader.Header().allocationChunks()
	surviving, err := e.pruneChunks(chunks, filters)
	if err != nil {
		return err
	}

	preciseStart := time.Now()
	for _, info := range surviving {
		records, err := e.reader.ReadChunk(info)
		if err != nil {
			return err
		}
		for i := range records {
			if e.matchesAll(&records[i], filters, resolver) {
				if err := fn(&records[i]); err != nil {
					return err
				}
			} else {
				e.stats.PreciseFilteredOut++
			}
		}
	}
	e.stats.PreciseFilterTimeUs += uint64(time.Since(preciseStart).Microseconds())
	return nil
}

// QueryAll collects every matching record.
func (e *FilterEngine) QueryAll(filters []Filter) ([]types.AllocationRecord, error) {
	var out []types.AllocationRecord
	err := e.Query(filters, func(rec *types.AllocationRecord) error {
		out = append(out, *rec)
		return nil
	})
	return out, err
}

// pruneChunks applies levels 1 and 2, returning the surviving chunks.
func (e *FilterEngine) pruneChunks(chunks []ChunkInfo, filters []Filter) ([]ChunkInfo, error) {
	sidecar := e.reader.Header().Sidecar
	if sidecar == nil || len(filters) == 0 {
		return chunks, nil
	}

	// Level 1: range pre-filter on per-batch (min,max) windows.
	indexStart := time.Now()
	var afterIndex []ChunkInfo
	for i, info := range chunks {
		if i >= len(sidecar.Batches) {
			afterIndex = append(afterIndex, info)
			continue
		}
		pruned := false
		for _, f := range filters {
			if f.prunesBatch(sidecar.Batches[i]) {
				pruned = true
				break
			}
		}
		if pruned {
			e.stats.IndexFilteredOut += uint64(info.RecordCount)
			continue
		}
		afterIndex = append(afterIndex, info)
	}
	e.stats.IndexFilterTimeUs += uint64(time.Since(indexStart).Microseconds())

	// Level 2: bloom checks for string equality predicates.
	bloomStart := time.Now()
	surviving, err := e.bloomPrune(afterIndex, chunks, sidecar, filters)
	e.stats.BloomFilterTimeUs += uint64(time.Since(bloomStart).Microseconds())
	return surviving, err
}

// bloomPrune drops batches whose bloom filters rule out an equality
// predicate's operand.
func (e *FilterEngine) bloomPrune(candidates, all []ChunkInfo, sidecar *QuickFilterSidecar, filters []Filter) ([]ChunkInfo, error) {
	var typeOperands []string
	var threadOperands []uint64
	for _, f := range filters {
		switch f.Kind {
		case FilterTypeNameEquals:
			typeOperands = append(typeOperands, f.Str)
		case FilterThreadIDEquals:
			threadOperands = append(threadOperands, f.Min)
		}
	}
	if len(typeOperands) == 0 && len(threadOperands) == 0 {
		return candidates, nil
	}

	// Map chunk ID to its batch position in the sidecar.
	batchPos := make(map[uint64]int, len(all))
	pos := 0
	for _, info := range all {
		batchPos[info.ID] = pos
		pos++
	}

	var surviving []ChunkInfo
	for _, info := range candidates {
		i, ok := batchPos[info.ID]
		if !ok || i >= len(sidecar.TypeBlooms) {
			surviving = append(surviving, info)
			continue
		}
		keep, err := e.bloomAdmits(sidecar, i, typeOperands, threadOperands)
		if err != nil {
			return nil, err
		}
		if keep {
			surviving = append(surviving, info)
		} else {
			e.stats.BloomFilteredOut += uint64(info.RecordCount)
		}
	}
	return surviving, nil
}

// bloomAdmits tests every equality operand against one batch's blooms.
func (e *FilterEngine) bloomAdmits(sidecar *QuickFilterSidecar, batch int, typeOperands []string, threadOperands []uint64) (bool, error) {
	if len(typeOperands) > 0 {
		f, err := unmarshalBloom(sidecar.TypeBlooms[batch])
		if err != nil {
			return false, err
		}
		for _, name := range typeOperands {
			if !f.Test([]byte(name)) {
				return false, nil
			}
		}
	}
	if len(threadOperands) > 0 && batch < len(sidecar.ThreadBlooms) {
		f, err := unmarshalBloom(sidecar.ThreadBlooms[batch])
		if err != nil {
			return false, err
		}
		var key [8]byte
		for _, id := range threadOperands {
			binary.LittleEndian.PutUint64(key[:], id)
			if !f.Test(key[:]) {
				return false, nil
			}
		}
	}
	return true, nil
}

// matchesAll applies every predicate; all must admit the record.
func (e *FilterEngine) matchesAll(rec *types.AllocationRecord, filters []Filter, resolver Resolver) bool {
	for _, f := range filters {
		if !f.Matches(rec, resolver) {
			return false
		}
	}
	return true
}

// Stats returns the engine's level-by-level counters.
func (e *FilterEngine) Stats() FilterStats { return e.stats }

// ResetStats clears the counters.
func (e *FilterEngine) ResetStats() { e.stats = FilterStats{} }
