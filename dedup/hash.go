package dedup

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/justapithecus/memtrace/types"
)

// hashString hashes a string payload. The same function must be used by
// the writer and the reader of a single binary file; xxhash64 is stable
// across platforms and process restarts.
func hashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// hashStack hashes a call stack frame-by-frame with field separators so
// that ("a","b") and ("ab","") cannot collide structurally.
func hashStack(frames []types.StackFrame) uint64 {
	d := xxhash.New()
	var line [4]byte
	for _, f := range frames {
		_, _ = d.WriteString(f.Function)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(f.File)
		_, _ = d.Write([]byte{0})
		binary.LittleEndian.PutUint32(line[:], f.Line)
		_, _ = d.Write(line[:])
	}
	return d.Sum64()
}

// hashMetadata hashes a key/value map. Keys are sorted first so that
// structurally equal maps produce identical hashes regardless of
// iteration order.
func hashMetadata(m map[string]string) uint64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(m[k])
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
