// Package export implements the binary container for allocation
// datasets: a streaming indexed writer, a selective reader, and a
// multi-level filter engine.
//
// File layout:
//
//	preamble (fixed 48 bytes):
//	    magic "MTRC" | version u32 | created_at_unix_s u64 |
//	    allocation_count u64 | total_memory_bytes u64 |
//	    trailer_offset u64 | trailer_len u32 | flags u32
//	chunk stream: independently compressed record batches
//	trailer: msgpack header body (compression format, chunk table,
//	    optional data index, quick-filter sidecar, interned-value tables)
//
// The writer streams chunks with O(batch) memory, then writes the
// trailer and seeks back to patch the preamble with the final counts
// and trailer location. All integers in the preamble are little-endian.
package export

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/justapithecus/memtrace/types"
)

// Magic is the 4-byte container prefix.
var Magic = [4]byte{'M', 'T', 'R', 'C'}

// Preamble sizes and flag bits.
const (
	PreambleSize = 48

	flagChunked           uint32 = 1 << 0
	flagHasIndex          uint32 = 1 << 1
	flagTrailerCompressed uint32 = 1 << 2
)

// Compression format tags carried in the header.
const (
	// FormatMsgpackZstd is msgpack payloads with per-chunk zstd.
	FormatMsgpackZstd = "msgpack+zstd"
	// FormatMsgpack is uncompressed msgpack payloads.
	FormatMsgpack = "msgpack"
)

// Chunk data type tags.
const (
	ChunkTypeAllocations  = "allocations"
	ChunkTypeTaskProfiles = "task_profiles"
)

// Preamble is the fixed-length file prefix. CreatedAt, AllocationCount,
// TotalMemoryBytes, and the trailer location are patched at close.
type Preamble struct {
	Version          uint32
	CreatedAtUnixS   uint64
	AllocationCount  uint64
	TotalMemoryBytes uint64
	TrailerOffset    uint64
	TrailerLen       uint32
	Flags            uint32
}

// IsChunked reports the chunked flag.
func (p Preamble) IsChunked() bool { return p.Flags&flagChunked != 0 }

// HasIndex reports the index flag.
func (p Preamble) HasIndex() bool { return p.Flags&flagHasIndex != 0 }

// encode writes the preamble into a fixed-size buffer.
func (p Preamble) encode() [PreambleSize]byte {
	var buf [PreambleSize]byte
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], p.Version)
	binary.LittleEndian.PutUint64(buf[8:16], p.CreatedAtUnixS)
	binary.LittleEndian.PutUint64(buf[16:24], p.AllocationCount)
	binary.LittleEndian.PutUint64(buf[24:32], p.TotalMemoryBytes)
	binary.LittleEndian.PutUint64(buf[32:40], p.TrailerOffset)
	binary.LittleEndian.PutUint32(buf[40:44], p.TrailerLen)
	binary.LittleEndian.PutUint32(buf[44:48], p.Flags)
	return buf
}

// decodePreamble parses and validates the fixed prefix. A version newer
// than the reader understands is refused before any record is touched.
func decodePreamble(r io.ReaderAt) (Preamble, error) {
	var buf [PreambleSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return Preamble{}, types.WrapTrackError(types.KindDataError, err, "read preamble")
	}
	if [4]byte(buf[0:4]) != Magic {
		return Preamble{}, types.NewTrackError(types.KindDataError,
			"bad magic %q", string(buf[0:4]))
	}
	p := Preamble{
		Version:          binary.LittleEndian.Uint32(buf[4:8]),
		CreatedAtUnixS:   binary.LittleEndian.Uint64(buf[8:16]),
		AllocationCount:  binary.LittleEndian.Uint64(buf[16:24]),
		TotalMemoryBytes: binary.LittleEndian.Uint64(buf[24:32]),
		TrailerOffset:    binary.LittleEndian.Uint64(buf[32:40]),
		TrailerLen:       binary.LittleEndian.Uint32(buf[40:44]),
		Flags:            binary.LittleEndian.Uint32(buf[44:48]),
	}
	if p.Version > types.FormatVersion {
		return Preamble{}, types.NewTrackError(types.KindUnsupportedVersion,
			"file version %d exceeds reader version %d", p.Version, types.FormatVersion)
	}
	return p, nil
}

// ChunkInfo describes one independently compressed batch in the stream.
type ChunkInfo struct {
	ID               uint64     `msgpack:"id" json:"id"`
	DataType         string     `msgpack:"data_type" json:"data_type"`
	CompressedSize   uint64     `msgpack:"compressed_size" json:"compressed_size"`
	UncompressedSize uint64     `msgpack:"uncompressed_size" json:"uncompressed_size"`
	FileOffset       uint64     `msgpack:"file_offset" json:"file_offset"`
	TimeRange        *TimeRange `msgpack:"time_range,omitempty" json:"time_range,omitempty"`
	// RecordStart and RecordCount locate the chunk's records within
	// the whole-file record numbering, for index-driven selection.
	RecordStart uint64 `msgpack:"record_start" json:"record_start"`
	RecordCount uint32 `msgpack:"record_count" json:"record_count"`
}

// TimeRange is an inclusive allocation-timestamp interval.
type TimeRange struct {
	Start uint64 `msgpack:"start" json:"start"`
	End   uint64 `msgpack:"end" json:"end"`
}

// DataIndex maps names and ranges to record indices, enabling
// index-driven selection without a full scan. Adding it costs a few
// percent of file size.
type DataIndex struct {
	// ByType maps type names to sorted record indices.
	ByType map[string][]uint64 `msgpack:"by_type" json:"by_type"`
	// ByVariable maps variable names to sorted record indices.
	ByVariable map[string][]uint64 `msgpack:"by_variable" json:"by_variable"`
	// ByTime is a sorted list of (start, end, indices) buckets.
	ByTime []RangeBucket `msgpack:"by_time" json:"by_time"`
	// BySize is a sorted list of (min, max, indices) buckets.
	BySize []RangeBucket `msgpack:"by_size" json:"by_size"`
}

// RangeBucket groups record indices falling into one value interval.
type RangeBucket struct {
	Min     uint64   `msgpack:"min" json:"min"`
	Max     uint64   `msgpack:"max" json:"max"`
	Indices []uint64 `msgpack:"indices" json:"indices"`
}

// BloomParams are the shared bloom filter parameters. Writer and
// reader of one file must agree on them; they are recorded in the
// sidecar.
type BloomParams struct {
	HashFunctions   uint32 `msgpack:"hash_functions" json:"hash_functions"`
	FilterSizeBytes uint32 `msgpack:"filter_size_bytes" json:"filter_size_bytes"`
}

// BatchStats is the (min,max) pre-filter data for one batch.
type BatchStats struct {
	MinPtr  uint64 `msgpack:"min_ptr" json:"min_ptr"`
	MaxPtr  uint64 `msgpack:"max_ptr" json:"max_ptr"`
	MinSize uint64 `msgpack:"min_size" json:"min_size"`
	MaxSize uint64 `msgpack:"max_size" json:"max_size"`
	MinTs   uint64 `msgpack:"min_ts" json:"min_ts"`
	MaxTs   uint64 `msgpack:"max_ts" json:"max_ts"`
}

// QuickFilterSidecar carries per-batch range stats and bloom filters.
// Bloom bit-sets are serialized per batch; false positives are allowed,
// false negatives are forbidden.
type QuickFilterSidecar struct {
	Batches      []BatchStats `msgpack:"batches" json:"batches"`
	Params       BloomParams  `msgpack:"params" json:"params"`
	ThreadBlooms [][]byte     `msgpack:"thread_blooms" json:"-"`
	TypeBlooms   [][]byte     `msgpack:"type_blooms" json:"-"`
}

// Header is the variable-length header body stored in the trailer.
type Header struct {
	CompressionFormat string              `msgpack:"compression_format" json:"compression_format"`
	IsChunked         bool                `msgpack:"is_chunked" json:"is_chunked"`
	Chunks            []ChunkInfo         `msgpack:"chunks" json:"chunks"`
	Index             *DataIndex          `msgpack:"index,omitempty" json:"index,omitempty"`
	Sidecar           *QuickFilterSidecar `msgpack:"sidecar,omitempty" json:"sidecar,omitempty"`
	// Interned-value tables make the file self-describing: every
	// handle referenced by a record resolves here. The whole trailer,
	// tables included, is zstd-compressed when the format says so.
	Strings  map[uint64]string             `msgpack:"strings" json:"-"`
	Stacks   map[uint64][]types.StackFrame `msgpack:"stacks" json:"-"`
	Metadata map[uint64]map[string]string  `msgpack:"metadata" json:"-"`
}

// allocationChunks returns the chunk infos holding allocation records.
func (h *Header) allocationChunks() []ChunkInfo {
	out := make([]ChunkInfo, 0, len(h.Chunks))
	for _, c := range h.Chunks {
		if c.DataType == ChunkTypeAllocations {
			out = append(out, c)
		}
	}
	return out
}

// validateFormat checks the compression tag is one the reader knows.
func validateFormat(format string) error {
	switch format {
	case FormatMsgpackZstd, FormatMsgpack:
		return nil
	default:
		return types.NewTrackError(types.KindDataError,
			"unknown compression format %q", format)
	}
}

// String renders a short header summary for CLI surfaces.
func (h *Header) String() string {
	return fmt.Sprintf("format=%s chunked=%v chunks=%d indexed=%v",
		h.CompressionFormat, h.IsChunked, len(h.Chunks), h.Index != nil)
}
