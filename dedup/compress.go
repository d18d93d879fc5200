package dedup

import (
	"github.com/klauspost/compress/zstd"
)

// Shared zstd coders for the blob tier. EncodeAll/DecodeAll on shared
// instances are safe for concurrent use.
var (
	blobEncoder *zstd.Encoder
	blobDecoder *zstd.Decoder
)

func init() {
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
}

func compress(raw []byte) []byte {
	return blobEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(blob []byte) ([]byte, error) {
	return blobDecoder.DecodeAll(blob, nil)
}
