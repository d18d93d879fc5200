package export

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/memtrace/types"
)

// Resolver resolves dedup handles to their payloads. The interning
// store implements it; the reader's in-file tables implement it too.
type Resolver interface {
	LookupString(ref types.StringRef) (string, error)
	LookupStack(ref types.StackRef) ([]types.StackFrame, error)
	LookupMetadata(ref types.MetadataRef) (map[string]string, error)
}

// File is the writer's target: sequential writes for the stream plus
// positioned writes for the preamble patch. os.File satisfies it, as
// does iox.BufferFile for in-memory exports.
type File interface {
	io.Writer
	io.WriterAt
}

// WriterStats counts one export pass.
type WriterStats struct {
	RecordsWritten    uint64 `json:"records_written"`
	ChunksWritten     uint64 `json:"chunks_written"`
	UncompressedBytes uint64 `json:"uncompressed_bytes"`
	CompressedBytes   uint64 `json:"compressed_bytes"`
}

// Writer streams allocation records into the binary container with
// O(batch) memory: records are serialized in fixed-size batches, each
// batch compressed and written as one chunk while the sidecar stats
// and index grow incrementally. Close writes the trailer and patches
// the preamble.
//
// Not safe for concurrent use.
type Writer struct {
	dst      File
	opts     Options
	resolver Resolver
	encoder  *zstd.Encoder

	batch       []types.AllocationRecord
	batchThread map[uint64]struct{}
	batchTypes  map[string]struct{}

	chunks      []ChunkInfo
	sidecar     QuickFilterSidecar
	index       DataIndex
	strings     map[uint64]string
	stacks      map[uint64][]types.StackFrame
	metadata    map[uint64]map[string]string

	offset      uint64
	recordIndex uint64
	totalBytes  uint64
	createdAt   uint64
	closed      bool
	stats       WriterStats
}

// NewWriter starts an export to dst. The resolver supplies payloads
// for the handles referenced by records; pass nil only when records
// carry no handles.
func NewWriter(dst File, opts Options, resolver Resolver) (*Writer, error) {
	if err := validateFormat(opts.Format); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.BloomFalsePositiveRate <= 0 {
		opts.BloomFalsePositiveRate = 0.01
	}

	var encoder *zstd.Encoder
	if opts.Format == FormatMsgpackZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(opts.CompressionLevel)))
		if err != nil {
			return nil, types.WrapTrackError(types.KindDataError, err, "init zstd encoder")
		}
		encoder = enc
	}

	w := &Writer{
		dst:         dst,
		opts:        opts,
		resolver:    resolver,
		encoder:     encoder,
		batch:       make([]types.AllocationRecord, 0, opts.BatchSize),
		batchThread: make(map[uint64]struct{}),
		batchTypes:  make(map[string]struct{}),
		strings:     make(map[uint64]string),
		stacks:      make(map[uint64][]types.StackFrame),
		metadata:    make(map[uint64]map[string]string),
		createdAt:   uint64(time.Now().Unix()),
	}
	if opts.IncludeIndex {
		w.index.ByType = make(map[string][]uint64)
		w.index.ByVariable = make(map[string][]uint64)
	}

	// Reserve the preamble; final values are patched at Close.
	placeholder := Preamble{Version: types.FormatVersion}.encode()
	if _, err := dst.Write(placeholder[:]); err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "write preamble")
	}
	w.offset = PreambleSize
	return w, nil
}

// WriteRecord appends one record to the current batch, flushing a
// chunk when the batch fills.
func (w *Writer) WriteRecord(rec *types.AllocationRecord) error {
	if w.closed {
		return types.NewTrackError(types.KindNotActive, "writer closed")
	}

	typeName, err := w.collectRefs(rec)
	if err != nil {
		return err
	}

	if w.opts.IncludeIndex {
		w.indexRecord(rec, typeName)
	}
	w.batchThread[rec.ThreadID] = struct{}{}
	if typeName != "" {
		w.batchTypes[typeName] = struct{}{}
	}

	w.batch = append(w.batch, *rec)
	w.totalBytes += rec.Size
	w.recordIndex++
	if len(w.batch) >= w.opts.BatchSize {
		return w.flushBatch()
	}
	return nil
}

// WriteTaskProfiles writes an auxiliary chunk of task resource
// profiles. The pending allocation batch is flushed first so chunk
// order matches production order.
func (w *Writer) WriteTaskProfiles(profiles []types.TaskResourceProfile) error {
	if w.closed {
		return types.NewTrackError(types.KindNotActive, "writer closed")
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(profiles)
	if err != nil {
		return types.WrapTrackError(types.KindDataError, err, "encode task profiles")
	}
	return w.writeChunk(payload, ChunkTypeTaskProfiles, nil, 0, 0)
}

// collectRefs copies every handle payload the record references into
// the in-file tables and returns the type name for indexing.
func (w *Writer) collectRefs(rec *types.AllocationRecord) (string, error) {
	if w.resolver == nil {
		return "", nil
	}
	typeName, err := w.collectString(rec.TypeNameRef)
	if err != nil {
		return "", err
	}
	if _, err := w.collectString(rec.VarNameRef); err != nil {
		return "", err
	}
	if _, err := w.collectString(rec.ScopeNameRef); err != nil {
		return "", err
	}
	if !rec.StackRef.IsZero() {
		if _, seen := w.stacks[rec.StackRef.Hash]; !seen {
			frames, err := w.resolver.LookupStack(rec.StackRef)
			if err != nil {
				return "", err
			}
			w.stacks[rec.StackRef.Hash] = frames
		}
	}
	if !rec.Metadata.IsZero() {
		if _, seen := w.metadata[rec.Metadata.Hash]; !seen {
			m, err := w.resolver.LookupMetadata(rec.Metadata)
			if err != nil {
				return "", err
			}
			w.metadata[rec.Metadata.Hash] = m
		}
	}
	return typeName, nil
}

func (w *Writer) collectString(ref types.StringRef) (string, error) {
	if ref.IsZero() {
		return "", nil
	}
	if s, seen := w.strings[ref.Hash]; seen {
		return s, nil
	}
	s, err := w.resolver.LookupString(ref)
	if err != nil {
		return "", err
	}
	w.strings[ref.Hash] = s
	return s, nil
}

// indexRecord adds the record to the data index under its final record
// number.
func (w *Writer) indexRecord(rec *types.AllocationRecord, typeName string) {
	idx := w.recordIndex
	if typeName != "" {
		w.index.ByType[typeName] = append(w.index.ByType[typeName], idx)
	}
	if w.resolver != nil && !rec.VarNameRef.IsZero() {
		if varName, ok := w.strings[rec.VarNameRef.Hash]; ok && varName != "" {
			w.index.ByVariable[varName] = append(w.index.ByVariable[varName], idx)
		}
	}
}

// flushBatch serializes, compresses, and writes the pending batch as
// one chunk, updating sidecar stats and bloom filters.
func (w *Writer) flushBatch() error {
	if len(w.batch) == 0 {
		return nil
	}

	payload, err := msgpack.Marshal(w.batch)
	if err != nil {
		return types.WrapTrackError(types.KindDataError, err, "encode batch")
	}

	stats := batchStatsOf(w.batch)
	timeRange := &TimeRange{Start: stats.MinTs, End: stats.MaxTs}
	recordStart := w.recordIndex - uint64(len(w.batch))

	if err := w.writeChunk(payload, ChunkTypeAllocations, timeRange, recordStart, uint32(len(w.batch))); err != nil {
		return err
	}

	if w.opts.IncludeIndex {
		w.sidecar.Batches = append(w.sidecar.Batches, stats)
		w.appendBlooms()
		w.appendRangeBuckets(stats, recordStart, uint64(len(w.batch)))
	}

	w.batch = w.batch[:0]
	w.batchThread = make(map[uint64]struct{})
	w.batchTypes = make(map[string]struct{})
	return nil
}

// writeChunk writes one chunk body at the current offset and records
// its ChunkInfo.
func (w *Writer) writeChunk(payload []byte, dataType string, timeRange *TimeRange, recordStart uint64, recordCount uint32) error {
	body := payload
	if w.encoder != nil {
		body = w.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}
	if _, err := w.dst.Write(body); err != nil {
		return types.WrapTrackError(types.KindIo, err, "write chunk")
	}

	w.chunks = append(w.chunks, ChunkInfo{
		ID:               uint64(len(w.chunks)),
		DataType:         dataType,
		CompressedSize:   uint64(len(body)),
		UncompressedSize: uint64(len(payload)),
		FileOffset:       w.offset,
		TimeRange:        timeRange,
		RecordStart:      recordStart,
		RecordCount:      recordCount,
	})
	w.offset += uint64(len(body))
	w.stats.ChunksWritten++
	w.stats.UncompressedBytes += uint64(len(payload))
	w.stats.CompressedBytes += uint64(len(body))
	if dataType == ChunkTypeAllocations {
		w.stats.RecordsWritten += uint64(recordCount)
	}
	return nil
}

// appendBlooms builds the per-batch bloom filters for thread_id and
// type_name. Both share the same parameters, sized for one batch.
func (w *Writer) appendBlooms() {
	capacity := uint(w.opts.BatchSize)
	threadBloom := bloom.NewWithEstimates(capacity, w.opts.BloomFalsePositiveRate)
	typeBloom := bloom.NewWithEstimates(capacity, w.opts.BloomFalsePositiveRate)

	var key [8]byte
	for threadID := range w.batchThread {
		binary.LittleEndian.PutUint64(key[:], threadID)
		threadBloom.Add(key[:])
	}
	for typeName := range w.batchTypes {
		typeBloom.Add([]byte(typeName))
	}

	w.sidecar.Params = BloomParams{
		HashFunctions:   uint32(threadBloom.K()),
		FilterSizeBytes: uint32(threadBloom.Cap() / 8),
	}
	w.sidecar.ThreadBlooms = append(w.sidecar.ThreadBlooms, marshalBloom(threadBloom))
	w.sidecar.TypeBlooms = append(w.sidecar.TypeBlooms, marshalBloom(typeBloom))
}

// appendRangeBuckets extends the time and size range indexes with the
// batch's records.
func (w *Writer) appendRangeBuckets(stats BatchStats, recordStart, count uint64) {
	indices := make([]uint64, count)
	for i := range indices {
		indices[i] = recordStart + uint64(i)
	}
	w.index.ByTime = append(w.index.ByTime, RangeBucket{
		Min: stats.MinTs, Max: stats.MaxTs, Indices: indices,
	})
	sizeIndices := make([]uint64, count)
	copy(sizeIndices, indices)
	w.index.BySize = append(w.index.BySize, RangeBucket{
		Min: stats.MinSize, Max: stats.MaxSize, Indices: sizeIndices,
	})
}

// Close flushes the final batch, writes the trailer, and patches the
// preamble with the final counts and trailer location.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	w.closed = true

	header := Header{
		CompressionFormat: w.opts.Format,
		IsChunked:         true,
		Chunks:            w.chunks,
		Strings:           w.strings,
		Stacks:            w.stacks,
		Metadata:          w.metadata,
	}
	if w.opts.IncludeIndex {
		w.sortIndex()
		header.Index = &w.index
		header.Sidecar = &w.sidecar
	}

	trailer, err := msgpack.Marshal(&header)
	if err != nil {
		return types.WrapTrackError(types.KindDataError, err, "encode trailer")
	}
	if w.encoder != nil {
		trailer = w.encoder.EncodeAll(trailer, make([]byte, 0, len(trailer)/2))
	}
	if _, err := w.dst.Write(trailer); err != nil {
		return types.WrapTrackError(types.KindIo, err, "write trailer")
	}

	flags := flagChunked
	if w.opts.IncludeIndex {
		flags |= flagHasIndex
	}
	if w.encoder != nil {
		flags |= flagTrailerCompressed
	}
	pre := Preamble{
		Version:          types.FormatVersion,
		CreatedAtUnixS:   w.createdAt,
		AllocationCount:  w.recordIndex,
		TotalMemoryBytes: w.totalBytes,
		TrailerOffset:    w.offset,
		TrailerLen:       uint32(len(trailer)),
		Flags:            flags,
	}
	buf := pre.encode()
	if _, err := w.dst.WriteAt(buf[:], 0); err != nil {
		return types.WrapTrackError(types.KindIo, err, "patch preamble")
	}
	return nil
}

// Stats returns writer counters.
func (w *Writer) Stats() WriterStats { return w.stats }

// sortIndex sorts every index posting list for binary-search lookups.
func (w *Writer) sortIndex() {
	for _, indices := range w.index.ByType {
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	}
	for _, indices := range w.index.ByVariable {
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	}
}

// batchStatsOf computes the quick-filter ranges over one batch.
func batchStatsOf(batch []types.AllocationRecord) BatchStats {
	stats := BatchStats{
		MinPtr: ^uint64(0), MinSize: ^uint64(0), MinTs: ^uint64(0),
	}
	for i := range batch {
		r := &batch[i]
		stats.MinPtr = min(stats.MinPtr, r.Ptr)
		stats.MaxPtr = max(stats.MaxPtr, r.Ptr)
		stats.MinSize = min(stats.MinSize, r.Size)
		stats.MaxSize = max(stats.MaxSize, r.Size)
		stats.MinTs = min(stats.MinTs, r.TimestampAllocNs)
		stats.MaxTs = max(stats.MaxTs, r.TimestampAllocNs)
	}
	return stats
}

// marshalBloom serializes a bloom filter's full state.
func marshalBloom(f *bloom.BloomFilter) []byte {
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}

// unmarshalBloom restores a serialized bloom filter.
func unmarshalBloom(data []byte) (*bloom.BloomFilter, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "decode bloom filter")
	}
	return f, nil
}
