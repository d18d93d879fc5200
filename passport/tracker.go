package passport

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/safelock"
	"github.com/justapithecus/memtrace/types"
)

// eventSequence is the process-wide sequence counter. Strict
// monotonicity within a passport follows from global monotonicity.
var eventSequence atomic.Uint64

// Tracker maintains every passport and classifies them at shutdown.
// Safe for concurrent use.
type Tracker struct {
	config Config
	logger *log.Logger
	store  *dedup.Store

	mu        sync.RWMutex
	passports map[uint64]*MemoryPassport

	created            atomic.Uint64
	eventsRecorded     atomic.Uint64
	leaksDetected      atomic.Uint64
	validationFailures atomic.Uint64
}

// NewTracker creates a passport tracker. The dedup store receives the
// call stacks and metadata attached to events; a nil store disables
// stack capture, a nil logger disables logging.
func NewTracker(config Config, store *dedup.Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Tracker{
		config:    config,
		logger:    logger,
		store:     store,
		passports: make(map[uint64]*MemoryPassport),
	}
}

// CreatePassport registers a new cross-boundary allocation and returns
// its passport ID. Fails with ResourceExhausted at the passport cap.
func (t *Tracker) CreatePassport(ptr, size uint64, context string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.MaxPassports > 0 && len(t.passports) >= t.config.MaxPassports {
		return "", types.NewTrackError(types.KindResourceExhausted,
			"passport cap reached: %d", t.config.MaxPassports)
	}

	now := nowNs()
	p := &MemoryPassport{
		PassportID:    uuid.NewString(),
		AllocationPtr: ptr,
		SizeBytes:     size,
		CreatedNs:     now,
		UpdatedNs:     now,
		foldedState:   StatusAllocatedHere,
	}
	p.Events = append(p.Events, t.newEventLocked(EventAllocatedHere, context, nil))
	t.passports[ptr] = p
	t.created.Add(1)
	t.eventsRecorded.Add(1)

	if t.config.DetailedLogging {
		t.logger.Debug("passport created", map[string]any{
			"passport_id": p.PassportID,
			"ptr":         fmt.Sprintf("0x%x", ptr),
			"size":        size,
		})
	}
	return p.PassportID, nil
}

// RecordHandover appends a HandedOut event for the allocation, marking
// it as held by the named foreign function.
func (t *Tracker) RecordHandover(ptr uint64, ffiContext, functionName string) error {
	return t.recordEvent(ptr, EventHandedOut, ffiContext, map[string]string{
		"function": functionName,
	})
}

// RecordFreedByForeign appends a FreedByForeign event.
func (t *Tracker) RecordFreedByForeign(ptr uint64, context, freeFn string) error {
	return t.recordEvent(ptr, EventFreedByForeign, context, map[string]string{
		"free_function": freeFn,
	})
}

// RecordReclaimed appends a ReclaimedHere event.
func (t *Tracker) RecordReclaimed(ptr uint64, context, reason string) error {
	return t.recordEvent(ptr, EventReclaimedHere, context, map[string]string{
		"reason": reason,
	})
}

// recordEvent appends a lifecycle event, evicting the oldest event when
// the per-passport bound is exceeded. The folded state absorbs evicted
// history so classification never changes.
func (t *Tracker) recordEvent(ptr uint64, kind EventKind, context string, metadata map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.passports[ptr]
	if !ok {
		return types.NewTrackError(types.KindInvalidPointer, "no passport for 0x%x", ptr)
	}

	ev := t.newEventLocked(kind, context, metadata)
	// Timestamps must not regress within a passport even under coarse
	// clock sources.
	if n := len(p.Events); n > 0 && ev.Timestamp < p.Events[n-1].Timestamp {
		ev.Timestamp = p.Events[n-1].Timestamp
	}
	p.Events = append(p.Events, ev)
	if t.config.MaxEventsPerPassport > 0 && len(p.Events) > t.config.MaxEventsPerPassport {
		evicted := p.Events[0]
		p.foldedState = FoldStatus(p.foldedState, []Event{evicted})
		p.Events = p.Events[1:]
	}
	p.UpdatedNs = ev.Timestamp
	t.eventsRecorded.Add(1)

	if t.config.DetailedLogging {
		t.logger.Debug("passport event", map[string]any{
			"passport_id": p.PassportID,
			"kind":        string(kind),
			"sequence":    ev.Sequence,
		})
	}
	return nil
}

func (t *Tracker) newEventLocked(kind EventKind, context string, metadata map[string]string) Event {
	ev := Event{
		Kind:      kind,
		Timestamp: nowNs(),
		Context:   context,
		Sequence:  eventSequence.Add(1),
	}
	if t.store != nil {
		if t.config.CaptureStacks {
			if ref, err := t.store.InternStack(captureStack(3)); err == nil {
				ev.StackRef = ref
			}
		}
		if len(metadata) > 0 {
			if ref, err := t.store.InternMetadata(metadata); err == nil {
				ev.Metadata = ref
			}
		}
	}
	return ev
}

// Passport returns a copy of the passport for ptr, if tracked.
func (t *Tracker) Passport(ptr uint64) (MemoryPassport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.passports[ptr]
	if !ok {
		return MemoryPassport{}, false
	}
	return t.copyLocked(p), true
}

// PassportsByStatus returns copies of all passports whose current
// folded status matches.
func (t *Tracker) PassportsByStatus(status Status) []MemoryPassport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []MemoryPassport
	for _, p := range t.passports {
		if FoldStatus(p.foldedState, p.Events) == status {
			out = append(out, t.copyLocked(p))
		}
	}
	return out
}

func (t *Tracker) copyLocked(p *MemoryPassport) MemoryPassport {
	cp := *p
	cp.Events = make([]Event, len(p.Events))
	copy(cp.Events, p.Events)
	return cp
}

// ValidatePassport checks the event history: sequence numbers must be
// strictly increasing and timestamps must not regress.
func (t *Tracker) ValidatePassport(ptr uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.passports[ptr]
	if !ok {
		return false
	}
	for i := 1; i < len(p.Events); i++ {
		if p.Events[i].Sequence <= p.Events[i-1].Sequence {
			t.validationFailures.Add(1)
			return false
		}
		if p.Events[i].Timestamp < p.Events[i-1].Timestamp {
			t.validationFailures.Add(1)
			return false
		}
	}
	return true
}

// DetectLeaksAtShutdown folds every passport's history, assigns its
// shutdown status, and reports all passports still in foreign custody.
// Each leak is also logged as a structured warning.
func (t *Tracker) DetectLeaksAtShutdown() LeakReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := nowNs()
	report := LeakReport{DetectedAtNs: now}
	for _, p := range t.passports {
		live := FoldStatus(p.foldedState, p.Events)
		p.StatusAtShutdown = ShutdownStatus(live)
		if p.StatusAtShutdown != StatusInForeignCustody {
			continue
		}

		lastContext := ""
		var sinceLast uint64
		if n := len(p.Events); n > 0 {
			lastContext = p.Events[n-1].Context
			if now > p.Events[n-1].Timestamp {
				sinceLast = now - p.Events[n-1].Timestamp
			}
		}
		detail := LeakDetail{
			PassportID:       p.PassportID,
			MemoryAddress:    p.AllocationPtr,
			SizeBytes:        p.SizeBytes,
			LastContext:      lastContext,
			TimeSinceLastNs:  sinceLast,
			LifecycleSummary: lifecycleSummary(p.Events),
		}
		report.LeakedPassports = append(report.LeakedPassports, p.PassportID)
		report.Details = append(report.Details, detail)

		t.logger.Warn("memory leaked in foreign custody", map[string]any{
			"passport_id": detail.PassportID,
			"ptr":         fmt.Sprintf("0x%x", detail.MemoryAddress),
			"size":        detail.SizeBytes,
			"last_context": detail.LastContext,
			"lifecycle":   detail.LifecycleSummary,
		})
	}
	report.TotalLeaks = len(report.Details)
	t.leaksDetected.Add(uint64(report.TotalLeaks))
	return report
}

// ClearAll drops every passport. Used between tracking sessions.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passports = make(map[uint64]*MemoryPassport)
}

// Stats returns a snapshot of tracker counters. A degraded lock
// (panic inside the read section) falls back to the counter-only view
// instead of propagating.
func (t *Tracker) Stats() Stats {
	stats := Stats{
		TotalPassportsCreated: t.created.Load(),
		TotalEventsRecorded:   t.eventsRecorded.Load(),
		LeaksDetected:         t.leaksDetected.Load(),
		ValidationFailures:    t.validationFailures.Load(),
	}
	err := safelock.WithRLock(&t.mu, func() {
		byStatus := make(map[Status]int)
		for _, p := range t.passports {
			byStatus[FoldStatus(p.foldedState, p.Events)]++
		}
		stats.ActivePassports = len(t.passports)
		stats.PassportsByStatus = byStatus
	})
	if err != nil {
		t.logger.Warn("passport stats degraded", map[string]any{"error": err.Error()})
	}
	return stats
}

// lifecycleSummary renders the event history as a compact arrow chain,
// e.g. "allocated_here->handed_out".
func lifecycleSummary(events []Event) string {
	if len(events) == 0 {
		return "empty"
	}
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = string(e.Kind)
	}
	return strings.Join(parts, "->")
}

// captureStack collects caller frames, skipping the tracker's own.
func captureStack(skip int) []types.StackFrame {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	var out []types.StackFrame
	for {
		f, more := frames.Next()
		out = append(out, types.StackFrame{
			Function: f.Function,
			File:     f.File,
			Line:     uint32(f.Line),
		})
		if !more {
			break
		}
	}
	return out
}

func nowNs() uint64 {
	return uint64(time.Now().UnixNano())
}
