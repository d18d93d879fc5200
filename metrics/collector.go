// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during one tracking session. It
// is a leaf package with no internal dependencies. Tracker statistics
// are absorbed from the dispatcher at session completion rather than
// recorded live, avoiding double-counting on the hot path.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted int64
	SessionsStopped int64
	SessionsFailed  int64

	// Tracking (absorbed from the dispatcher at session completion)
	EventsTracked uint64
	EventsDropped uint64
	BytesTracked  uint64
	OverheadBytes uint64

	// Export
	ExportSuccess     int64
	ExportFailure     int64
	RecordsExported   uint64
	ChunksWritten     uint64
	FrameDecodeErrors int64

	// Passports
	PassportsCreated uint64
	LeaksDetected    uint64

	// Dimensions (informational, set at construction)
	Strategy  string
	SessionID string
}

// Collector accumulates metrics during one tracking session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so instrumentation sites need no nil checks.
type Collector struct {
	mu sync.Mutex

	sessionsStarted int64
	sessionsStopped int64
	sessionsFailed  int64

	eventsTracked uint64
	eventsDropped uint64
	bytesTracked  uint64
	overheadBytes uint64

	exportSuccess     int64
	exportFailure     int64
	recordsExported   uint64
	chunksWritten     uint64
	frameDecodeErrors int64

	passportsCreated uint64
	leaksDetected    uint64

	strategy  string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(strategy, sessionID string) *Collector {
	return &Collector{strategy: strategy, sessionID: sessionID}
}

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionStopped records a clean session stop.
func (c *Collector) IncSessionStopped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStopped++
	c.mu.Unlock()
}

// IncSessionFailed records a session that ended in error.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.mu.Unlock()
}

// IncExportSuccess records a successful export (per-call).
func (c *Collector) IncExportSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exportSuccess++
	c.mu.Unlock()
}

// IncExportFailure records a failed export (per-call).
func (c *Collector) IncExportFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exportFailure++
	c.mu.Unlock()
}

// IncFrameDecodeErrors records a corrupt frame skipped during log
// aggregation.
func (c *Collector) IncFrameDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameDecodeErrors++
	c.mu.Unlock()
}

// AddExported records export output volume.
func (c *Collector) AddExported(records, chunks uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsExported += records
	c.chunksWritten += chunks
	c.mu.Unlock()
}

// AddPassports records passport activity.
func (c *Collector) AddPassports(created, leaks uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.passportsCreated += created
	c.leaksDetected += leaks
	c.mu.Unlock()
}

// AbsorbTrackerStats copies tracking counters from the dispatcher into
// the collector. Called once after session completion with the final
// statistics snapshot. Plain integers keep this package free of
// dependencies on the tracker package.
func (c *Collector) AbsorbTrackerStats(tracked, dropped, bytes, overhead uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsTracked = tracked
	c.eventsDropped = dropped
	c.bytesTracked = bytes
	c.overheadBytes = overhead
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsStopped:   c.sessionsStopped,
		SessionsFailed:    c.sessionsFailed,
		EventsTracked:     c.eventsTracked,
		EventsDropped:     c.eventsDropped,
		BytesTracked:      c.bytesTracked,
		OverheadBytes:     c.overheadBytes,
		ExportSuccess:     c.exportSuccess,
		ExportFailure:     c.exportFailure,
		RecordsExported:   c.recordsExported,
		ChunksWritten:     c.chunksWritten,
		FrameDecodeErrors: c.frameDecodeErrors,
		PassportsCreated:  c.passportsCreated,
		LeaksDetected:     c.leaksDetected,
		Strategy:          c.strategy,
		SessionID:         c.sessionID,
	}
}
