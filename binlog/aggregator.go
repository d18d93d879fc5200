package binlog

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/types"
)

// AggregateStats describes one aggregation pass.
type AggregateStats struct {
	LogsRead      int    `json:"logs_read"`
	FramesRead    uint64 `json:"frames_read"`
	EventsRead    uint64 `json:"events_read"`
	FramesSkipped uint64 `json:"frames_skipped"`
}

// Aggregator reads every per-thread log in a directory and replays the
// events in per-thread program order. It runs only at export time; the
// writing threads must have flushed before aggregation starts.
type Aggregator struct {
	dir    string
	logger *log.Logger
	stats  AggregateStats
}

// NewAggregator creates an aggregator over dir. A nil logger disables
// logging.
func NewAggregator(dir string, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Aggregator{dir: dir, logger: logger}
}

// ReadAll replays every thread log and returns all events. Within one
// thread, events preserve insertion order; across threads, logs are
// visited in file-name order for determinism.
func (a *Aggregator) ReadAll() ([]types.Event, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "read log dir %s", a.dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "thread_") && strings.HasSuffix(e.Name(), ".bin") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var events []types.Event
	for _, name := range names {
		logEvents, err := a.readLog(filepath.Join(a.dir, name))
		if err != nil {
			return nil, err
		}
		events = append(events, logEvents...)
		a.stats.LogsRead++
	}
	return events, nil
}

// readLog replays one thread log. Corrupt frames are skipped with a
// warning; truncated or oversized frames abort the log.
func (a *Aggregator) readLog(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapTrackError(types.KindIo, err, "open thread log %s", path)
	}
	defer func() { _ = f.Close() }()

	dec := NewFrameDecoder(f)
	var events []types.Event
	for {
		batch, err := dec.ReadBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			if IsFatalFrameError(err) {
				return nil, types.WrapTrackError(types.KindDataError, err, "corrupt thread log %s", path)
			}
			a.stats.FramesSkipped++
			a.logger.Warn("skipping corrupt frame", map[string]any{
				"log":   path,
				"error": err.Error(),
			})
			continue
		}
		a.stats.FramesRead++
		a.stats.EventsRead += uint64(len(batch))
		events = append(events, batch...)
	}
	return events, nil
}

// Stats returns counters from the last ReadAll pass.
func (a *Aggregator) Stats() AggregateStats { return a.stats }

// Reconstruct folds a raw event sequence into allocation records,
// pairing deallocations with their allocations by pointer. String-like
// fields are interned through the provided intern functions so records
// share storage with the rest of the system.
func Reconstruct(events []types.Event, intern InternFuncs) ([]types.AllocationRecord, error) {
	active := make(map[uint64]*types.AllocationRecord)
	var completed []types.AllocationRecord

	for _, ev := range events {
		switch ev.Kind {
		case types.EventKindAlloc:
			rec := types.AllocationRecord{
				Ptr:              ev.Ptr,
				Size:             ev.Size,
				ThreadID:         ev.ThreadID,
				TimestampAllocNs: ev.TimestampNs,
			}
			if intern.String != nil {
				var err error
				if rec.TypeNameRef, err = intern.String(ev.TypeName); err != nil {
					return nil, err
				}
				if rec.VarNameRef, err = intern.String(ev.VarName); err != nil {
					return nil, err
				}
				if rec.ScopeNameRef, err = intern.String(ev.ScopeName); err != nil {
					return nil, err
				}
			}
			if intern.Stack != nil && len(ev.CallStack) > 0 {
				ref, err := intern.Stack(ev.CallStack)
				if err != nil {
					return nil, err
				}
				rec.StackRef = ref
			}
			active[ev.Ptr] = &rec
		case types.EventKindDealloc:
			rec, ok := active[ev.Ptr]
			if !ok {
				// Deallocation of a pointer allocated before tracking
				// started, or on a thread whose log is missing. Not an
				// error in multi-thread aggregation.
				continue
			}
			rec.MarkDeallocated(ev.TimestampNs)
			if rec.ThreadID != ev.ThreadID {
				rec.CrossThreadDealloc = true
			}
			completed = append(completed, *rec)
			delete(active, ev.Ptr)
		case types.EventKindBorrow:
			if rec, ok := active[ev.Ptr]; ok {
				if rec.Borrow == nil {
					rec.Borrow = &types.BorrowInfo{}
				}
				rec.Borrow.ImmutableCount++
			}
		case types.EventKindClone:
			if rec, ok := active[ev.Ptr]; ok {
				if rec.Clone == nil {
					rec.Clone = &types.CloneInfo{IsCloneOrigin: true}
				}
				rec.Clone.CloneCount++
			}
		}
	}

	// Still-active allocations are emitted without a deallocation
	// timestamp, after the completed ones, ordered by allocation time.
	remaining := make([]types.AllocationRecord, 0, len(active))
	for _, rec := range active {
		remaining = append(remaining, *rec)
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].TimestampAllocNs < remaining[j].TimestampAllocNs
	})
	return append(completed, remaining...), nil
}

// InternFuncs are the interning callbacks used during reconstruction.
// Nil functions leave the corresponding refs zero.
type InternFuncs struct {
	String func(string) (types.StringRef, error)
	Stack  func([]types.StackFrame) (types.StackRef, error)
}
