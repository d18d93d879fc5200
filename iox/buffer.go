package iox

import (
	"fmt"
	"io"
)

// BufferFile is an in-memory file: a byte slice implementing io.Writer,
// io.WriterAt, io.Seeker, and io.ReaderAt. The export writer needs to
// seek back and patch its header after streaming, which bytes.Buffer
// cannot do.
type BufferFile struct {
	data []byte
	pos  int64
}

// NewBufferFile creates an empty in-memory file.
func NewBufferFile() *BufferFile {
	return &BufferFile{}
}

// Write appends or overwrites at the current position.
func (b *BufferFile) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

// WriteAt overwrites at off without moving the position.
func (b *BufferFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *BufferFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = b.pos + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	b.pos = next
	return next, nil
}

// ReadAt implements io.ReaderAt.
func (b *BufferFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the accumulated contents.
func (b *BufferFile) Bytes() []byte { return b.data }

// Len returns the current file size.
func (b *BufferFile) Len() int { return len(b.data) }
