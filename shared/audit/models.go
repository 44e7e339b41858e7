package audit

import "encoding/json"

// Event status values.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// AuditLogRequest is the wire payload accepted by the central audit
// service's create endpoint. Pointer fields are omitted when absent.
type AuditLogRequest struct {
	// TraceID correlates the event with a request trace; nil for
	// standalone events.
	TraceID *string `json:"traceId,omitempty"`

	// Timestamp is the event time in ISO 8601 / RFC 3339.
	Timestamp string `json:"timestamp"`

	// EventType classifies the event (MANAGEMENT_EVENT, STATUS_CHECK, ...)
	// and EventAction names the verb (CREATE, READ, UPDATE, DELETE).
	EventType   *string `json:"eventType,omitempty"`
	EventAction *string `json:"eventAction,omitempty"`

	// Status is StatusSuccess or StatusFailure.
	Status string `json:"status"`

	// ActorType is USER, SERVICE or SYSTEM; ActorID the account id or
	// service name performing the action.
	ActorType string `json:"actorType"`
	ActorID   string `json:"actorId"`

	// TargetType and TargetID identify what was acted upon.
	TargetType string  `json:"targetType"`
	TargetID   *string `json:"targetId,omitempty"`

	// Metadata blobs must not carry PII or document content.
	RequestMetadata    json.RawMessage `json:"requestMetadata,omitempty"`
	ResponseMetadata   json.RawMessage `json:"responseMetadata,omitempty"`
	AdditionalMetadata json.RawMessage `json:"additionalMetadata,omitempty"`
}
