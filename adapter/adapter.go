// Package adapter defines the notification boundary for shutdown leak
// reports.
//
// Adapters publish leak findings to downstream systems (alerting,
// dashboards). The host owns adapter lifecycle; users provide
// configuration only.
package adapter

import "context"

// LeakReportEvent is the payload published when shutdown leak
// detection completes.
type LeakReportEvent struct {
	EventType     string      `json:"event_type"` // always "leak_report"
	SessionID     string      `json:"session_id"`
	Strategy      string      `json:"strategy"`
	TotalLeaks    int         `json:"total_leaks"`
	LeakedBytes   uint64      `json:"leaked_bytes"`
	Leaks         []LeakEntry `json:"leaks,omitempty"`
	Timestamp     string      `json:"timestamp"` // ISO 8601
	DurationMs    int64       `json:"duration_ms"`
	EventsTracked uint64      `json:"events_tracked"`
}

// LeakEntry is one leaked passport in the event payload.
type LeakEntry struct {
	PassportID       string `json:"passport_id"`
	Address          uint64 `json:"address"`
	SizeBytes        uint64 `json:"size_bytes"`
	LastContext      string `json:"last_context"`
	LifecycleSummary string `json:"lifecycle_summary"`
}

// Adapter publishes leak reports to a downstream system.
// Implementations must be safe for single-use per session.
type Adapter interface {
	// Publish sends a leak report to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *LeakReportEvent) error

	// Close releases adapter resources.
	Close() error
}
