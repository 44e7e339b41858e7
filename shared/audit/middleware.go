package audit

import (
	"context"
	"log/slog"
	"sync"
)

// AuditMiddleware is a thin wrapper that gives handlers one place to send
// events without threading an Auditor through every constructor.
type AuditMiddleware struct {
	client Auditor
}

var (
	globalAuditMiddleware *AuditMiddleware
	globalAuditOnce       sync.Once
)

// NewAuditMiddleware wraps client and, on the first call of the process,
// installs the result as the global instance used by the package-level
// LogAuditEvent. A nil or disabled client makes every call a no-op.
func NewAuditMiddleware(client Auditor) *AuditMiddleware {
	m := &AuditMiddleware{client: client}
	globalAuditOnce.Do(func() {
		globalAuditMiddleware = m
	})
	return m
}

// Client exposes the wrapped Auditor.
func (m *AuditMiddleware) Client() Auditor {
	return m.client
}

// LogAuditEvent forwards the event to the wrapped client.
func (m *AuditMiddleware) LogAuditEvent(ctx context.Context, auditRequest *AuditLogRequest) {
	if m.client == nil {
		return
	}
	m.client.LogEvent(ctx, auditRequest)
}

// LogAuditEvent publishes through the global instance installed by
// NewAuditMiddleware.
func LogAuditEvent(ctx context.Context, auditRequest *AuditLogRequest) {
	if globalAuditMiddleware == nil {
		slog.Warn("Global AuditMiddleware is not initialized; audit event not logged")
		return
	}
	globalAuditMiddleware.LogAuditEvent(ctx, auditRequest)
}

// GetGlobalAuditMiddleware returns the installed global instance, nil
// before NewAuditMiddleware has run.
func GetGlobalAuditMiddleware() *AuditMiddleware {
	return globalAuditMiddleware
}

// ResetGlobalAuditMiddleware clears the global instance. Test helper only.
func ResetGlobalAuditMiddleware() {
	globalAuditOnce = sync.Once{}
	globalAuditMiddleware = nil
}
