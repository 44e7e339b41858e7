package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithJSON(rec, http.StatusCreated, map[string]string{"id": "aa_1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "aa_1", body["id"])
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, http.StatusNotFound, "agent authority not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "agent authority not found", body.Error)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthHandler("licensing-backend")(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "licensing-backend", body["service"])
	assert.Equal(t, "healthy", body["status"])
}

func TestPanicRecoveryMiddleware(t *testing.T) {
	handler := PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities", nil)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseJSONRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agencyId":"agency_1"}`))

	var target struct {
		AgencyID string `json:"agencyId"`
	}
	require.NoError(t, ParseJSONRequest(req, &target))
	assert.Equal(t, "agency_1", target.AgencyID)

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	assert.Error(t, ParseJSONRequest(bad, &target))
}

func TestNewServer(t *testing.T) {
	t.Setenv("PORT", "")
	config := NewServerConfig("3000")
	assert.Equal(t, "3000", config.Port)

	server := NewServer(config, http.NewServeMux())
	assert.Equal(t, ":3000", server.Addr)
	assert.Equal(t, config.WriteTimeout, server.WriteTimeout)
}

func TestGetEnvOrDefault(t *testing.T) {
	key := "UTILS_TEST_ENV_98765"
	os.Setenv(key, "from-env")
	defer os.Unsetenv(key)

	assert.Equal(t, "from-env", GetEnvOrDefault(key, "default"))
	assert.Equal(t, "default", GetEnvOrDefault("UTILS_TEST_ENV_UNSET_98765", "default"))
}
