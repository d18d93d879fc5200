package binlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/justapithecus/memtrace/types"
)

// DefaultFlushBatch is the event count that triggers a frame write.
const DefaultFlushBatch = 256

// ThreadLogWriter appends events for one thread to its own log file.
// Not safe for concurrent use: each thread owns exactly one writer, so
// the hot path takes no lock at all.
type ThreadLogWriter struct {
	threadID   uint64
	file       *os.File
	encoder    *FrameEncoder
	pending    []types.Event
	flushBatch int

	framesWritten uint64
	eventsWritten uint64
}

// NewThreadLogWriter opens (or truncates) the log file for threadID in
// dir. Files are named "thread_<id>.bin".
func NewThreadLogWriter(dir string, threadID uint64, flushBatch int) (*ThreadLogWriter, error) {
	if flushBatch <= 0 {
		flushBatch = DefaultFlushBatch
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "create log dir %s", dir)
	}
	path := filepath.Join(dir, LogFileName(threadID))
	f, err := os.Create(path)
	if err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "create thread log %s", path)
	}
	return &ThreadLogWriter{
		threadID:   threadID,
		file:       f,
		encoder:    NewFrameEncoder(f),
		pending:    make([]types.Event, 0, flushBatch),
		flushBatch: flushBatch,
	}, nil
}

// LogFileName returns the log file name for a thread.
func LogFileName(threadID uint64) string {
	return fmt.Sprintf("thread_%d.bin", threadID)
}

// Append buffers one event, flushing a frame when the batch fills.
func (w *ThreadLogWriter) Append(ev types.Event) error {
	w.pending = append(w.pending, ev)
	if len(w.pending) >= w.flushBatch {
		return w.Flush()
	}
	return nil
}

// Flush writes all pending events as one frame.
func (w *ThreadLogWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.encoder.WriteBatch(w.pending); err != nil {
		return err
	}
	w.framesWritten++
	w.eventsWritten += uint64(len(w.pending))
	w.pending = w.pending[:0]
	return nil
}

// Close flushes pending events and closes the log file.
func (w *ThreadLogWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// EventsWritten returns the number of events flushed to disk.
func (w *ThreadLogWriter) EventsWritten() uint64 { return w.eventsWritten }

// LogSet manages one ThreadLogWriter per thread. Writer lookup takes a
// read lock; the append path on an existing writer is lock-free from
// the set's perspective because each writer is thread-owned.
type LogSet struct {
	dir        string
	flushBatch int

	mu      sync.RWMutex
	writers map[uint64]*ThreadLogWriter
}

// NewLogSet creates a log set rooted at dir.
func NewLogSet(dir string, flushBatch int) *LogSet {
	return &LogSet{
		dir:        dir,
		flushBatch: flushBatch,
		writers:    make(map[uint64]*ThreadLogWriter),
	}
}

// Writer returns the log writer for threadID, creating it on first use.
func (s *LogSet) Writer(threadID uint64) (*ThreadLogWriter, error) {
	s.mu.RLock()
	w, ok := s.writers[threadID]
	s.mu.RUnlock()
	if ok {
		return w, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[threadID]; ok {
		return w, nil
	}
	w, err := NewThreadLogWriter(s.dir, threadID, s.flushBatch)
	if err != nil {
		return nil, err
	}
	s.writers[threadID] = w
	return w, nil
}

// Dir returns the directory holding the thread logs.
func (s *LogSet) Dir() string { return s.dir }

// CloseAll flushes and closes every writer, returning the first error.
func (s *LogSet) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.writers = make(map[uint64]*ThreadLogWriter)
	return firstErr
}
