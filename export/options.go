package export

import (
	"github.com/klauspost/compress/zstd"
)

// Options controls the export writer.
type Options struct {
	// CompressionLevel selects the zstd effort (1 fast .. 9+ small).
	// Ignored when Format is uncompressed.
	CompressionLevel int
	// Format is the compression format tag written to the header.
	Format string
	// BatchSize is the record count per chunk. The writer's peak
	// memory is proportional to it.
	BatchSize int
	// IncludeIndex adds the DataIndex and quick-filter sidecar.
	IncludeIndex bool
	// BloomFalsePositiveRate tunes the per-batch bloom filters.
	BloomFalsePositiveRate float64
}

// DefaultOptions balances speed, size, and query features.
func DefaultOptions() Options {
	return Options{
		CompressionLevel:       3,
		Format:                 FormatMsgpackZstd,
		BatchSize:              1000,
		IncludeIndex:           true,
		BloomFalsePositiveRate: 0.01,
	}
}

// FastOptions favors export speed: minimal compression, no index.
func FastOptions() Options {
	return Options{
		CompressionLevel:       1,
		Format:                 FormatMsgpackZstd,
		BatchSize:              1000,
		IncludeIndex:           false,
		BloomFalsePositiveRate: 0.01,
	}
}

// CompactOptions favors file size for archival.
func CompactOptions() Options {
	return Options{
		CompressionLevel:       9,
		Format:                 FormatMsgpackZstd,
		BatchSize:              500,
		IncludeIndex:           true,
		BloomFalsePositiveRate: 0.01,
	}
}

// SelectiveOptions favors partial-loading efficiency: smaller batches
// for fine-grained pruning.
func SelectiveOptions() Options {
	return Options{
		CompressionLevel:       5,
		Format:                 FormatMsgpackZstd,
		BatchSize:              250,
		IncludeIndex:           true,
		BloomFalsePositiveRate: 0.005,
	}
}

// zstdLevel maps the numeric level to a zstd encoder level.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 4:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
