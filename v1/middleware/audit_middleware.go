package middleware

import (
	"context"
	"log/slog"
	"net/http"

	auditpkg "github.com/forestry-sandbox/licensing-backend/shared/audit"
	"github.com/forestry-sandbox/licensing-backend/v1/models"
	authutils "github.com/forestry-sandbox/licensing-backend/v1/utils"
)

// LogAudit logs an audit event for a write operation by extracting actor
// info from the request and posting the event through the audit client.
func LogAudit(client auditpkg.Auditor, r *http.Request, resource models.ResourceType, resourceID *string, status models.AuditStatus) {
	if client == nil || !client.IsEnabled() {
		return
	}

	// Only write operations are audited
	if !isWriteOperation(r.Method) {
		return
	}

	actorType, actorID := extractActorInfoFromRequest(r)
	if actorID == "" {
		// Actor id is a required field on the audit service
		slog.Warn("Cannot log audit event: no actor ID found", "path", r.URL.Path)
		return
	}

	eventAction := determineEventAction(r.Method)
	if eventAction == "" {
		return
	}

	managementEventType := "MANAGEMENT_EVENT"

	auditStatus := auditpkg.StatusSuccess
	if status == models.AuditStatusFailure {
		auditStatus = auditpkg.StatusFailure
	}

	auditRequest := &auditpkg.AuditLogRequest{
		TraceID:     nil, // standalone management event
		Timestamp:   auditpkg.CurrentTimestamp(),
		EventType:   &managementEventType,
		EventAction: &eventAction,
		Status:      auditStatus,
		ActorType:   string(actorType),
		ActorID:     actorID,
		TargetType:  "RESOURCE",
		TargetID:    resourceID,
		AdditionalMetadata: auditpkg.MarshalMetadata(map[string]interface{}{
			"resource": string(resource),
			"clientIp": authutils.GetRequestIP(r),
		}),
	}

	// Background context: r.Context() may be cancelled before the audit
	// log is sent.
	client.LogEvent(context.Background(), auditRequest)
}

// LogAuditEvent logs through the global audit middleware instance
func LogAuditEvent(r *http.Request, resource models.ResourceType, resourceID *string, status models.AuditStatus) {
	globalMiddleware := auditpkg.GetGlobalAuditMiddleware()
	if globalMiddleware != nil {
		LogAudit(globalMiddleware.Client(), r, resource, resourceID, status)
	} else {
		slog.Warn("Audit logging skipped: globalAuditMiddleware is not initialized")
	}
}

// extractActorInfoFromRequest maps the authenticated user to audit actor info
func extractActorInfoFromRequest(r *http.Request) (models.ActorType, string) {
	user, err := authutils.GetAuthenticatedUser(r.Context())
	if err != nil || user == nil {
		return models.ActorTypeSystem, ""
	}
	return models.ActorTypeUser, user.UserAccountID
}

func isWriteOperation(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

func determineEventAction(method string) string {
	switch method {
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return ""
	}
}
