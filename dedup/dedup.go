// Package dedup provides the deduplicating interning store.
//
// Repeated strings, call stacks, and key/value metadata maps are stored
// once per distinct hash and handed back as small reference handles
// (types.StringRef, types.StackRef, types.MetadataRef). Payloads are
// immutable once interned; only reference counts mutate. Large payloads
// move to a zstd-compressed blob tier and are decompressed lazily on
// lookup.
package dedup

import (
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/types"
)

// Config controls interning behavior for all three content kinds.
type Config struct {
	// EnableStringDedup toggles string interning. When off, handles are
	// still hashed but nothing is stored.
	EnableStringDedup bool
	// EnableStackDedup toggles call-stack interning.
	EnableStackDedup bool
	// EnableMetadataDedup toggles metadata-map interning.
	EnableMetadataDedup bool
	// MaxCacheSize caps the item count per content kind.
	MaxCacheSize int
	// CleanupThreshold is the fill fraction of MaxCacheSize that
	// triggers a frequency-ordered halving of the store.
	CleanupThreshold float64
	// EnableCompression moves payloads above the thresholds into the
	// compressed blob tier.
	EnableCompression bool
	// StringCompressionThreshold is the minimum string size in bytes
	// for blob-tier storage.
	StringCompressionThreshold int
	// StructCompressionThreshold is the minimum encoded size in bytes
	// for blob-tier storage of stacks and metadata maps.
	StructCompressionThreshold int
	// StrictRetention forbids evicting entries whose refcount is
	// non-zero. In relaxed mode eviction may cause later lookup
	// failures that the caller must handle.
	StrictRetention bool
}

// DefaultConfig returns the interning defaults.
func DefaultConfig() Config {
	return Config{
		EnableStringDedup:          true,
		EnableStackDedup:           true,
		EnableMetadataDedup:        true,
		MaxCacheSize:               10000,
		CleanupThreshold:           0.8,
		EnableCompression:          true,
		StringCompressionThreshold: 256,
		StructCompressionThreshold: 512,
		StrictRetention:            true,
	}
}

// Stats is a point-in-time snapshot of interning activity.
type Stats struct {
	StringsDeduplicated  uint64 `json:"strings_deduplicated"`
	StacksDeduplicated   uint64 `json:"stacks_deduplicated"`
	MetadataDeduplicated uint64 `json:"metadata_deduplicated"`
	CacheHits            uint64 `json:"cache_hits"`
	CacheMisses          uint64 `json:"cache_misses"`
	BytesSaved           uint64 `json:"bytes_saved"`
	Evictions            uint64 `json:"evictions"`
	CleanupOperations    uint64 `json:"cleanup_operations"`
	TotalOperations      uint64 `json:"total_operations"`
}

// HitRate returns the cache hit fraction, 0 when no operations ran.
func (s Stats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Store is the process-wide interning store. Safe for concurrent use.
type Store struct {
	config Config
	logger *log.Logger

	strings  *table[string]
	stacks   *table[[]types.StackFrame]
	metadata *table[map[string]string]
}

// NewStore creates a Store with the given configuration.
// A nil logger disables logging.
func NewStore(config Config, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	stringThreshold := 0
	structThreshold := 0
	if config.EnableCompression {
		stringThreshold = config.StringCompressionThreshold
		structThreshold = config.StructCompressionThreshold
	}
	return &Store{
		config:   config,
		logger:   logger,
		strings:  newTable[string](config, stringThreshold, stringCodec{}, logger),
		stacks:   newTable[[]types.StackFrame](config, structThreshold, msgpackCodec[[]types.StackFrame]{}, logger),
		metadata: newTable[map[string]string](config, structThreshold, msgpackCodec[map[string]string]{}, logger),
	}
}

// InternString stores one canonical copy of s and returns its handle.
// Interning the same string again increments the refcount and reports a
// cache hit.
func (s *Store) InternString(value string) (types.StringRef, error) {
	hash := hashString(value)
	ref := types.StringRef{Hash: hash, Len: uint32(len(value))}
	if !s.config.EnableStringDedup {
		return ref, nil
	}
	if err := s.strings.intern(hash, value, len(value)); err != nil {
		return types.StringRef{}, err
	}
	return ref, nil
}

// LookupString resolves a string handle. Fails with a DataError when the
// entry was evicted in relaxed-retention mode.
func (s *Store) LookupString(ref types.StringRef) (string, error) {
	if ref.IsZero() {
		return "", nil
	}
	return s.strings.lookup(ref.Hash)
}

// ReleaseString decrements the refcount of a string handle, making the
// entry eligible for eviction once it reaches zero.
func (s *Store) ReleaseString(ref types.StringRef) {
	s.strings.release(ref.Hash)
}

// InternStack stores one canonical copy of a call stack.
func (s *Store) InternStack(frames []types.StackFrame) (types.StackRef, error) {
	hash := hashStack(frames)
	ref := types.StackRef{Hash: hash, Frames: uint32(len(frames))}
	if !s.config.EnableStackDedup {
		return ref, nil
	}
	size := 0
	for _, f := range frames {
		size += len(f.Function) + len(f.File) + 4
	}
	if err := s.stacks.intern(hash, frames, size); err != nil {
		return types.StackRef{}, err
	}
	return ref, nil
}

// LookupStack resolves a stack handle.
func (s *Store) LookupStack(ref types.StackRef) ([]types.StackFrame, error) {
	if ref.IsZero() {
		return nil, nil
	}
	return s.stacks.lookup(ref.Hash)
}

// ReleaseStack decrements the refcount of a stack handle.
func (s *Store) ReleaseStack(ref types.StackRef) {
	s.stacks.release(ref.Hash)
}

// InternMetadata stores one canonical copy of a key/value map. Maps with
// equal contents produce equal hashes regardless of iteration order.
func (s *Store) InternMetadata(m map[string]string) (types.MetadataRef, error) {
	hash := hashMetadata(m)
	ref := types.MetadataRef{Hash: hash, Keys: uint32(len(m))}
	if !s.config.EnableMetadataDedup {
		return ref, nil
	}
	size := 0
	for k, v := range m {
		size += len(k) + len(v)
	}
	if err := s.metadata.intern(hash, m, size); err != nil {
		return types.MetadataRef{}, err
	}
	return ref, nil
}

// LookupMetadata resolves a metadata handle.
func (s *Store) LookupMetadata(ref types.MetadataRef) (map[string]string, error) {
	if ref.IsZero() {
		return nil, nil
	}
	return s.metadata.lookup(ref.Hash)
}

// ReleaseMetadata decrements the refcount of a metadata handle.
func (s *Store) ReleaseMetadata(ref types.MetadataRef) {
	s.metadata.release(ref.Hash)
}

// RefCount returns the current refcount for a hash in the string store.
// Exposed for statistics and tests.
func (s *Store) RefCount(hash uint64) int64 {
	return s.strings.refCount(hash)
}

// Stats aggregates interning statistics across all content kinds.
func (s *Store) Stats() Stats {
	str := s.strings.stats()
	stk := s.stacks.stats()
	md := s.metadata.stats()
	return Stats{
		StringsDeduplicated:  str.deduplicated,
		StacksDeduplicated:   stk.deduplicated,
		MetadataDeduplicated: md.deduplicated,
		CacheHits:            str.hits + stk.hits + md.hits,
		CacheMisses:          str.misses + stk.misses + md.misses,
		BytesSaved:           str.bytesSaved + stk.bytesSaved + md.bytesSaved,
		Evictions:            str.evictions + stk.evictions + md.evictions,
		CleanupOperations:    str.cleanups + stk.cleanups + md.cleanups,
		TotalOperations:      str.hits + str.misses + stk.hits + stk.misses + md.hits + md.misses,
	}
}

// ClearAll resets all stores and statistics.
func (s *Store) ClearAll() {
	s.strings.clear()
	s.stacks.clear()
	s.metadata.clear()
}

// stringCodec encodes strings for the compressed blob tier.
type stringCodec struct{}

func (stringCodec) encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) decode(b []byte) (string, error) { return string(b), nil }

// msgpackCodec encodes structured payloads for the blob tier.
// Metadata maps are encoded with sorted keys so equal maps produce
// identical bytes.
type msgpackCodec[T any] struct{}

func (msgpackCodec[T]) encode(v T) ([]byte, error) {
	if m, ok := any(v).(map[string]string); ok {
		return encodeSortedMap(m)
	}
	return msgpack.Marshal(v)
}

func (msgpackCodec[T]) decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

func encodeSortedMap(m map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	w := &sliceWriter{buf: &buf}
	enc.Reset(w)
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		if err := enc.EncodeString(m[k]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
