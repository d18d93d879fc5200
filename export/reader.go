package export

import (
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/memtrace/types"
)

// Reader opens a binary container for querying. Chunks are loaded one
// at a time; the reader never materializes the whole dataset.
type Reader struct {
	src     readerSource
	pre     Preamble
	header  Header
	decoder *zstd.Decoder

	closer func() error
}

// readerSource is the positional read surface the reader needs.
type readerSource interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Open opens a container file from disk.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "open %s", path)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f.Close
	return r, nil
}

// NewReader opens a container from any positional read surface, such
// as iox.BufferFile for in-memory datasets.
func NewReader(src readerSource) (*Reader, error) {
	pre, err := decodePreamble(src)
	if err != nil {
		return nil, err
	}

	trailer := make([]byte, pre.TrailerLen)
	if _, err := src.ReadAt(trailer, int64(pre.TrailerOffset)); err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "read trailer")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "init zstd decoder")
	}
	if pre.Flags&flagTrailerCompressed != 0 {
		trailer, err = decoder.DecodeAll(trailer, nil)
		if err != nil {
			return nil, types.WrapTrackError(types.KindDataError, err, "decompress trailer")
		}
	}

	var header Header
	if err := msgpack.Unmarshal(trailer, &header); err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "decode trailer")
	}
	if err := validateFormat(header.CompressionFormat); err != nil {
		return nil, err
	}

	return &Reader{src: src, pre: pre, header: header, decoder: decoder}, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// Preamble returns the fixed header prefix.
func (r *Reader) Preamble() Preamble { return r.pre }

// Header returns the decoded header body.
func (r *Reader) Header() *Header { return &r.header }

// AllocationCount returns the total record count without reading any
// chunk.
func (r *Reader) AllocationCount() uint64 { return r.pre.AllocationCount }

// readChunkPayload loads and decompresses one chunk body.
func (r *Reader) readChunkPayload(info ChunkInfo) ([]byte, error) {
	body := make([]byte, info.CompressedSize)
	if _, err := r.src.ReadAt(body, int64(info.FileOffset)); err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "read chunk %d", info.ID)
	}
	if r.header.CompressionFormat == FormatMsgpackZstd {
		payload, err := r.decoder.DecodeAll(body, make([]byte, 0, info.UncompressedSize))
		if err != nil {
			return nil, types.WrapTrackError(types.KindDataError, err, "decompress chunk %d", info.ID)
		}
		return payload, nil
	}
	return body, nil
}

// ReadChunk loads the allocation records of one chunk.
func (r *Reader) ReadChunk(info ChunkInfo) ([]types.AllocationRecord, error) {
	payload, err := r.readChunkPayload(info)
	if err != nil {
		return nil, err
	}
	var records []types.AllocationRecord
	if err := msgpack.Unmarshal(payload, &records); err != nil {
		return nil, types.WrapTrackError(types.KindDataError, err, "decode chunk %d", info.ID)
	}
	return records, nil
}

// Records streams every allocation record, one chunk in memory at a
// time, in file order. The callback returning an error stops the scan.
func (r *Reader) Records(fn func(*types.AllocationRecord) error) error {
	for _, info := range r.header.allocationChunks() {
		records, err := r.ReadChunk(info)
		if err != nil {
			return err
		}
		for i := range records {
			if err := fn(&records[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadAll loads the whole dataset. Intended for tests and small files;
// production paths stream with Records or the selective processor.
func (r *Reader) ReadAll() ([]types.AllocationRecord, error) {
	out := make([]types.AllocationRecord, 0, r.pre.AllocationCount)
	err := r.Records(func(rec *types.AllocationRecord) error {
		out = append(out, *rec)
		return nil
	})
	return out, err
}

// TaskProfiles loads every auxiliary task-profile chunk.
func (r *Reader) TaskProfiles() ([]types.TaskResourceProfile, error) {
	var out []types.TaskResourceProfile
	for _, info := range r.header.Chunks {
		if info.DataType != ChunkTypeTaskProfiles {
			continue
		}
		payload, err := r.readChunkPayload(info)
		if err != nil {
			return nil, err
		}
		var profiles []types.TaskResourceProfile
		if err := msgpack.Unmarshal(payload, &profiles); err != nil {
			return nil, types.WrapTrackError(types.KindDataError, err, "decode profiles chunk %d", info.ID)
		}
		out = append(out, profiles...)
	}
	return out, nil
}

// Resolver returns a Resolver backed by the file's interned-value
// tables. Every handle referenced by a record in the file resolves.
func (r *Reader) Resolver() Resolver {
	return &fileResolver{header: &r.header}
}

// fileResolver resolves handles from the in-file tables.
type fileResolver struct {
	header *Header
}

func (f *fileResolver) LookupString(ref types.StringRef) (string, error) {
	if ref.IsZero() {
		return "", nil
	}
	s, ok := f.header.Strings[ref.Hash]
	if !ok {
		return "", types.NewTrackError(types.KindDataError, "hash %d not found", ref.Hash)
	}
	return s, nil
}

func (f *fileResolver) LookupStack(ref types.StackRef) ([]types.StackFrame, error) {
	if ref.IsZero() {
		return nil, nil
	}
	frames, ok := f.header.Stacks[ref.Hash]
	if !ok {
		return nil, types.NewTrackError(types.KindDataError, "hash %d not found", ref.Hash)
	}
	return frames, nil
}

func (f *fileResolver) LookupMetadata(ref types.MetadataRef) (map[string]string, error) {
	if ref.IsZero() {
		return nil, nil
	}
	m, ok := f.header.Metadata[ref.Hash]
	if !ok {
		return nil, types.NewTrackError(types.KindDataError, "hash %d not found", ref.Hash)
	}
	return m, nil
}
