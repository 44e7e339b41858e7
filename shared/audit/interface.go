package audit

import "context"

// Auditor publishes audit events. Implementations must not block the
// caller: events are delivered in the background and dropped (with a log
// line) when the audit service is unreachable — auditing never takes the
// business operation down with it.
type Auditor interface {
	// LogEvent publishes one event and returns immediately.
	LogEvent(ctx context.Context, event *AuditLogRequest)

	// IsEnabled lets callers skip building event payloads when auditing
	// is switched off.
	IsEnabled() bool
}
