package dedup

import (
	"sort"
	"sync"

	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/safelock"
	"github.com/justapithecus/memtrace/types"
)

// codec converts payloads to and from blob-tier bytes.
type codec[T any] interface {
	encode(v T) ([]byte, error)
	decode(b []byte) (T, error)
}

// entry is one interned payload. Exactly one of payload/blob is set:
// small values stay inline, large values live zstd-compressed in blob.
type entry[T any] struct {
	payload   *T
	blob      []byte
	size      int
	refCount  int64
	frequency uint64
}

// tableStats are the per-kind counters, read under the table lock.
type tableStats struct {
	deduplicated uint64
	hits         uint64
	misses       uint64
	bytesSaved   uint64
	evictions    uint64
	cleanups     uint64
}

// table is one hash-keyed interning store. The mutex covers both the
// entry map and the counters; every lookup takes it exclusively, since
// a hit also bumps the entry's frequency.
type table[T any] struct {
	mu      sync.Mutex
	entries map[uint64]*entry[T]
	st      tableStats

	maxItems          int
	cleanupThreshold  float64
	compressThreshold int
	strictRetention   bool
	codec             codec[T]
	logger            *log.Logger
}

func newTable[T any](cfg Config, compressThreshold int, c codec[T], logger *log.Logger) *table[T] {
	return &table[T]{
		entries:           make(map[uint64]*entry[T]),
		maxItems:          cfg.MaxCacheSize,
		cleanupThreshold:  cfg.CleanupThreshold,
		compressThreshold: compressThreshold,
		strictRetention:   cfg.StrictRetention,
		codec:             c,
		logger:            logger,
	}
}

// intern stores value under hash or bumps the existing entry's refcount.
func (t *table[T]) intern(hash uint64, value T, size int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[hash]; ok {
		e.refCount++
		e.frequency++
		t.st.hits++
		t.st.deduplicated++
		t.st.bytesSaved += uint64(size)
		return nil
	}

	t.st.misses++
	if t.maxItems > 0 && float64(len(t.entries)) >= float64(t.maxItems)*t.cleanupThreshold {
		t.evictLocked()
	}
	if t.maxItems > 0 && len(t.entries) >= t.maxItems {
		return types.NewTrackError(types.KindResourceExhausted,
			"intern store full: %d items", len(t.entries))
	}

	e := &entry[T]{size: size, refCount: 1, frequency: 1}
	if t.compressThreshold > 0 && size >= t.compressThreshold {
		encoded, err := t.codec.encode(value)
		if err != nil {
			return types.WrapTrackError(types.KindDataError, err, "encode payload for blob tier")
		}
		e.blob = compress(encoded)
	} else {
		e.payload = &value
	}
	t.entries[hash] = e
	return nil
}

// lookup resolves a hash to its payload, decompressing blob-tier
// entries lazily.
func (t *table[T]) lookup(hash uint64) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	e, ok := t.entries[hash]
	if !ok {
		return zero, types.NewTrackError(types.KindDataError, "hash %d not found", hash)
	}
	e.frequency++
	if e.payload != nil {
		return *e.payload, nil
	}
	raw, err := decompress(e.blob)
	if err != nil {
		return zero, types.WrapTrackError(types.KindDataError, err, "decompress blob for hash %d", hash)
	}
	v, err := t.codec.decode(raw)
	if err != nil {
		return zero, types.WrapTrackError(types.KindDataError, err, "decode blob for hash %d", hash)
	}
	return v, nil
}

// release decrements the refcount. Entries never drop below zero.
func (t *table[T]) release(hash uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[hash]; ok && e.refCount > 0 {
		e.refCount--
	}
}

func (t *table[T]) refCount(hash uint64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[hash]; ok {
		return e.refCount
	}
	return 0
}

// evictLocked halves the store by dropping the lowest-frequency entries.
// Strict retention skips entries that are still referenced. Caller must
// hold the lock.
func (t *table[T]) evictLocked() {
	type candidate struct {
		hash uint64
		freq uint64
	}
	candidates := make([]candidate, 0, len(t.entries))
	for h, e := range t.entries {
		if t.strictRetention && e.refCount > 0 {
			continue
		}
		candidates = append(candidates, candidate{hash: h, freq: e.frequency})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].freq < candidates[j].freq })

	target := len(t.entries) / 2
	evicted := 0
	for _, c := range candidates {
		if evicted >= target {
			break
		}
		delete(t.entries, c.hash)
		evicted++
	}
	t.st.evictions += uint64(evicted)
	t.st.cleanups++
	if evicted > 0 {
		t.logger.Debug("intern store cleanup", map[string]any{
			"evicted":   evicted,
			"remaining": len(t.entries),
		})
	}
}

// stats reads the counters through the safe-lock helper: a panic in
// the read section degrades to zero counters instead of poisoning the
// caller.
func (t *table[T]) stats() tableStats {
	var out tableStats
	if err := safelock.WithLock(&t.mu, func() { out = t.st }); err != nil {
		t.logger.Warn("intern stats degraded", map[string]any{"error": err.Error()})
		return tableStats{}
	}
	return out
}

func (t *table[T]) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uint64]*entry[T])
	t.st = tableStats{}
}
