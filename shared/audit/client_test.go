package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_DisabledWithoutURL(t *testing.T) {
	client := NewClient("")
	assert.False(t, client.IsEnabled())

	// No-op, must not panic
	client.LogEvent(context.Background(), &AuditLogRequest{Status: StatusSuccess})
}

func TestNewClient_DisabledViaEnv(t *testing.T) {
	t.Setenv("ENABLE_AUDIT", "false")
	client := NewClient("http://audit.internal")
	assert.False(t, client.IsEnabled())
}

func TestClient_LogEvent_PostsToAuditService(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, AuditLogsEndpoint, r.URL.Path)

		var event AuditLogRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received.Store(&event)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.True(t, client.IsEnabled())

	eventAction := "CREATE"
	client.LogEvent(context.Background(), &AuditLogRequest{
		Timestamp:   CurrentTimestamp(),
		EventAction: &eventAction,
		Status:      StatusSuccess,
		ActorType:   "USER",
		ActorID:     "user_1",
		TargetType:  "RESOURCE",
	})

	// LogEvent is fire-and-forget; wait for the background post
	require.Eventually(t, func() bool {
		return received.Load() != nil
	}, 2*time.Second, 10*time.Millisecond)

	event := received.Load().(*AuditLogRequest)
	assert.Equal(t, "user_1", event.ActorID)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, "CREATE", *event.EventAction)
}

func TestMarshalMetadata(t *testing.T) {
	assert.Nil(t, MarshalMetadata(nil))

	raw := MarshalMetadata(map[string]interface{}{"resource": "AGENT-AUTHORITIES"})
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "AGENT-AUTHORITIES", decoded["resource"])

	// Unmarshalable values degrade to an empty object, never invalid JSON
	bad := MarshalMetadata(map[string]interface{}{"fn": func() {}})
	assert.JSONEq(t, "{}", string(bad))
}

func TestCurrentTimestamp(t *testing.T) {
	ts := CurrentTimestamp()
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func TestAuditMiddleware_Global(t *testing.T) {
	ResetGlobalAuditMiddleware()
	defer ResetGlobalAuditMiddleware()

	// Logging before initialization must not panic
	LogAuditEvent(context.Background(), &AuditLogRequest{Status: StatusFailure})

	middleware := NewAuditMiddleware(NewClient(""))
	assert.Same(t, middleware, GetGlobalAuditMiddleware())
	assert.NotNil(t, middleware.Client())
}
