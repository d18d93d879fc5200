package adapter

import (
	"time"

	"github.com/justapithecus/memtrace/passport"
)

// FromLeakReport converts a shutdown leak report into the published
// event payload.
func FromLeakReport(report passport.LeakReport, sessionID, strategy string, eventsTracked uint64, duration time.Duration) *LeakReportEvent {
	event := &LeakReportEvent{
		EventType:     "leak_report",
		SessionID:     sessionID,
		Strategy:      strategy,
		TotalLeaks:    report.TotalLeaks,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DurationMs:    duration.Milliseconds(),
		EventsTracked: eventsTracked,
	}
	for _, detail := range report.Details {
		event.LeakedBytes += detail.SizeBytes
		event.Leaks = append(event.Leaks, LeakEntry{
			PassportID:       detail.PassportID,
			Address:          detail.MemoryAddress,
			SizeBytes:        detail.SizeBytes,
			LastContext:      detail.LastContext,
			LifecycleSummary: detail.LifecycleSummary,
		})
	}
	return event
}
