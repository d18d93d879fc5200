// Package passport tracks the lifecycle of allocations handed across
// the foreign-code boundary.
//
// Each cross-boundary allocation gets a MemoryPassport: an append-only
// event history plus a folded lifecycle state. At shutdown every
// passport is classified as cleanly reclaimed, cleanly freed by the
// other side, or leaked in foreign custody.
package passport

import (
	"github.com/justapithecus/memtrace/types"
)

// Status is the folded lifecycle state of a passport.
type Status string

const (
	// StatusAllocatedHere is the initial state: allocated locally, not
	// yet handed out.
	StatusAllocatedHere Status = "allocated_here"
	// StatusHandedOut marks memory currently held by foreign code.
	StatusHandedOut Status = "handed_out"
	// StatusFreedByForeign marks memory released by the foreign side.
	StatusFreedByForeign Status = "freed_by_foreign"
	// StatusReclaimedHere marks memory taken back by local code.
	StatusReclaimedHere Status = "reclaimed_here"
	// StatusInForeignCustody is the terminal leak classification:
	// handed out and never returned.
	StatusInForeignCustody Status = "in_foreign_custody"
	// StatusUnknown marks a corrupted or unclassifiable history.
	StatusUnknown Status = "unknown"
)

// EventKind discriminates passport lifecycle events.
type EventKind string

const (
	// EventAllocatedHere records the local allocation.
	EventAllocatedHere EventKind = "allocated_here"
	// EventHandedOut records a handover to foreign code.
	EventHandedOut EventKind = "handed_out"
	// EventFreedByForeign records a free performed by the foreign side.
	EventFreedByForeign EventKind = "freed_by_foreign"
	// EventReclaimedHere records local code taking ownership back.
	EventReclaimedHere EventKind = "reclaimed_here"
	// EventBoundaryAccess records a cross-boundary access observation.
	EventBoundaryAccess EventKind = "boundary_access"
	// EventValidationCheck records an explicit validation pass.
	EventValidationCheck EventKind = "validation_check"
)

// Event is one timestamped lifecycle transition. Events are append-only;
// Sequence is strictly monotonic within a passport and produced by a
// process-wide counter, Timestamp is monotonic non-decreasing.
type Event struct {
	Kind      EventKind         `msgpack:"kind" json:"kind"`
	Timestamp uint64            `msgpack:"timestamp" json:"timestamp"`
	Context   string            `msgpack:"context" json:"context"`
	StackRef  types.StackRef    `msgpack:"stack_ref" json:"stack_ref"`
	Metadata  types.MetadataRef `msgpack:"metadata_ref" json:"metadata_ref"`
	Sequence  uint64            `msgpack:"sequence" json:"sequence"`
}

// MemoryPassport is the lifecycle record of one cross-boundary
// allocation.
type MemoryPassport struct {
	PassportID       string  `msgpack:"passport_id" json:"passport_id"`
	AllocationPtr    uint64  `msgpack:"allocation_ptr" json:"allocation_ptr"`
	SizeBytes        uint64  `msgpack:"size_bytes" json:"size_bytes"`
	StatusAtShutdown Status  `msgpack:"status_at_shutdown" json:"status_at_shutdown"`
	Events           []Event `msgpack:"events" json:"events"`
	CreatedNs        uint64  `msgpack:"created_ns" json:"created_ns"`
	UpdatedNs        uint64  `msgpack:"updated_ns" json:"updated_ns"`

	// foldedState carries the lifecycle fold across event eviction so
	// dropped history never changes the final classification.
	foldedState Status
}

// FoldStatus determines the final status by folding events
// left-to-right from a starting state.
//
// The fold: AllocatedHere -> HandedOut on a handover; ReclaimedHere and
// FreedByForeign both override HandedOut. A history ending in HandedOut
// with no subsequent reclaim or foreign free classifies as
// InForeignCustody at shutdown.
func FoldStatus(initial Status, events []Event) Status {
	state := initial
	if state == "" {
		state = StatusAllocatedHere
	}
	for _, e := range events {
		switch e.Kind {
		case EventAllocatedHere:
			state = StatusAllocatedHere
		case EventHandedOut:
			state = StatusHandedOut
		case EventReclaimedHere:
			state = StatusReclaimedHere
		case EventFreedByForeign:
			state = StatusFreedByForeign
		}
	}
	return state
}

// ShutdownStatus maps a folded live state to its shutdown
// classification.
func ShutdownStatus(live Status) Status {
	if live == StatusHandedOut {
		return StatusInForeignCustody
	}
	return live
}

// LeakDetail describes one passport leaked in foreign custody.
type LeakDetail struct {
	PassportID       string `json:"passport_id"`
	MemoryAddress    uint64 `json:"memory_address"`
	SizeBytes        uint64 `json:"size_bytes"`
	LastContext      string `json:"last_context"`
	TimeSinceLastNs  uint64 `json:"time_since_last_event_ns"`
	LifecycleSummary string `json:"lifecycle_summary"`
}

// LeakReport is the shutdown classification of every passport.
type LeakReport struct {
	LeakedPassports []string     `json:"leaked_passports"`
	TotalLeaks      int          `json:"total_leaks"`
	Details         []LeakDetail `json:"leak_details"`
	DetectedAtNs    uint64       `json:"detected_at_ns"`
}

// Config controls the passport tracker.
type Config struct {
	// MaxPassports caps tracked passports; create_passport fails with
	// ResourceExhausted beyond it.
	MaxPassports int
	// MaxEventsPerPassport bounds per-passport history. On overflow the
	// oldest event is evicted; the folded state retains its effect.
	MaxEventsPerPassport int
	// DetailedLogging emits a debug log line per recorded event.
	DetailedLogging bool
	// CaptureStacks interns a call stack with each event.
	CaptureStacks bool
}

// DefaultConfig returns the passport tracker defaults.
func DefaultConfig() Config {
	return Config{
		MaxPassports:         10000,
		MaxEventsPerPassport: 100,
		DetailedLogging:      false,
		CaptureStacks:        true,
	}
}

// Stats is a snapshot of tracker activity.
type Stats struct {
	TotalPassportsCreated uint64         `json:"total_passports_created"`
	ActivePassports       int            `json:"active_passports"`
	PassportsByStatus     map[Status]int `json:"passports_by_status"`
	TotalEventsRecorded   uint64         `json:"total_events_recorded"`
	LeaksDetected         uint64         `json:"leaks_detected"`
	ValidationFailures    uint64         `json:"validation_failures"`
}
