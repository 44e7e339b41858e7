package audit

import (
	"encoding/json"
	"log/slog"
	"time"
)

// MarshalMetadata converts a metadata map to raw JSON. A nil map stays nil
// so the field is omitted; an unmarshalable value degrades to "{}" rather
// than invalidating the whole event payload.
func MarshalMetadata(metadata map[string]interface{}) json.RawMessage {
	if metadata == nil {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		slog.Error("Failed to marshal metadata for audit", "error", err)
		return json.RawMessage("{}")
	}
	return raw
}

// CurrentTimestamp formats the current UTC time for the Timestamp field.
func CurrentTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
