package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"github.com/forestry-sandbox/licensing-backend/v1/services"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
	authutils "github.com/forestry-sandbox/licensing-backend/v1/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type handlerFixture struct {
	mux   *http.ServeMux
	db    *gorm.DB
	files *storage.MemoryFileStorage
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	db := services.SetupSQLiteTestDB(t)
	files := storage.NewMemoryFileStorage()
	handler := NewV1Handler(db, files)

	mux := http.NewServeMux()
	handler.SetupV1Routes(mux)
	return &handlerFixture{mux: mux, db: db, files: files}
}

func (f *handlerFixture) seedAgency(t *testing.T) *models.Agency {
	t.Helper()
	agency := models.Agency{AgencyID: "agency_" + uuid.New().String(), Name: "Fixture Forestry Ltd"}
	require.NoError(t, f.db.Create(&agency).Error)
	return &agency
}

func (f *handlerFixture) seedUser(t *testing.T, accountType models.AccountType, agencyID *string) *models.UserAccount {
	t.Helper()
	user := models.UserAccount{
		UserAccountID: "user_" + uuid.New().String(),
		Email:         uuid.New().String() + "@example.com",
		AccountType:   accountType,
		AgencyID:      agencyID,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return &user
}

// do dispatches a request through the mux, optionally authenticated as userID
func (f *handlerFixture) do(req *http.Request, userID string) *httptest.ResponseRecorder {
	if userID != "" {
		ctx := authutils.SetAuthenticatedUser(req.Context(), &models.AuthenticatedUser{
			UserAccountID: userID,
			Email:         "fixture@example.com",
		})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) createAuthority(t *testing.T, agencyID, userID string) *models.AgentAuthorityResponse {
	t.Helper()
	body := fmt.Sprintf(`{"agencyId":%q,"woodlandOwner":{"contactName":"Jo Bloggs","contactEmail":"jo@example.com"}}`, agencyID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities", strings.NewReader(body))
	rec := f.do(req, userID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var authority models.AgentAuthorityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &authority))
	return &authority
}

func (f *handlerFixture) uploadForm(t *testing.T, authorityID, userID string, fileNames ...string) *models.AgentAuthorityFormResponse {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range fileNames {
		part, err := writer.CreateFormFile("documents", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities/"+authorityID+"/forms", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := f.do(req, userID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var form models.AgentAuthorityFormResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	return &form
}

func TestV1Handler_CreateAgentAuthority(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)

	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	assert.Equal(t, agency.AgencyID, authority.AgencyID)
	assert.Equal(t, models.AgentAuthorityStatusCreated, authority.Status)
	assert.NotEmpty(t, authority.WoodlandOwnerID)
}

func TestV1Handler_CreateAgentAuthority_Unauthenticated(t *testing.T) {
	fixture := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities", strings.NewReader(`{}`))
	rec := fixture.do(req, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestV1Handler_CreateAgentAuthority_BadBody(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities", strings.NewReader(`not json`))
	rec := fixture.do(req, agent.UserAccountID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestV1Handler_ListByAgency(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)

	first := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	second := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	fixture.uploadForm(t, second.AgentAuthorityID, agent.UserAccountID, "deed.pdf")

	t.Run("AllStatuses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities?agencyId="+agency.AgencyID, nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Items []models.AgentAuthoritySummary `json:"items"`
			Count int                            `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, 2, response.Count)
	})

	t.Run("StatusFilter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities?agencyId="+agency.AgencyID+"&status=form_uploaded", nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Items []models.AgentAuthoritySummary `json:"items"`
			Count int                            `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		require.Equal(t, 1, response.Count)
		assert.Equal(t, second.AgentAuthorityID, response.Items[0].AgentAuthorityID)
		_ = first
	})

	t.Run("UnknownStatusRejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities?agencyId="+agency.AgencyID+"&status=bogus", nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("MissingAgencyID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities", nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestV1Handler_FormLifecycle(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)

	form := fixture.uploadForm(t, authority.AgentAuthorityID, agent.UserAccountID, "deed.pdf")
	require.Len(t, form.Documents, 1)
	assert.Nil(t, form.ValidToDate)

	t.Run("SingleDocumentPassthrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms/"+form.AgentAuthorityFormID+"/documents", nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []byte("content of deed.pdf"), rec.Body.Bytes())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "deed.pdf")
	})

	t.Run("MultiDocumentZip", func(t *testing.T) {
		bundled := fixture.uploadForm(t, authority.AgentAuthorityID, agent.UserAccountID, "deed2.pdf", "map2.pdf")

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms/"+bundled.AgentAuthorityFormID+"/documents", nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), models.AafBundleFileName)
	})

	t.Run("RemoveForm", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete,
			"/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms/"+form.AgentAuthorityFormID, nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("RemoveUnknownForm", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete,
			"/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms/aaf_missing", nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("UploadWithoutDocuments", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestV1Handler_Deactivate(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	fcUser := fixture.seedUser(t, models.AccountTypeFcUser, nil)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)

	t.Run("AgentForbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/deactivate", nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("FcUserAllowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/deactivate", nil)
		rec := fixture.do(req, fcUser.UserAccountID)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("UploadAfterDeactivationConflicts", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("documents", "late.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("late"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestV1Handler_DeleteAuthority(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	fixture.uploadForm(t, authority.AgentAuthorityID, agent.UserAccountID, "deed.pdf")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/agent-authorities/"+authority.AgentAuthorityID, nil)
	rec := fixture.do(req, agent.UserAccountID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, fixture.files.Len())

	rec = fixture.do(httptest.NewRequest(http.MethodDelete, "/api/v1/agent-authorities/"+authority.AgentAuthorityID, nil), agent.UserAccountID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestV1Handler_StatusCheck(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)

	check := func(t *testing.T, url string) bool {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var response map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		return response["allowed"]
	}

	base := "/api/v1/agent-authorities/status-check?agencyId=" + agency.AgencyID + "&woodlandOwnerId=" + authority.WoodlandOwnerID
	assert.True(t, check(t, base))
	assert.True(t, check(t, base+"&allowed=created"))
	assert.False(t, check(t, base+"&allowed=form_uploaded"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities/status-check?agencyId="+agency.AgencyID, nil)
	rec := fixture.do(req, agent.UserAccountID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestV1Handler_Resolve(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	form := fixture.uploadForm(t, authority.AgentAuthorityID, agent.UserAccountID, "deed.pdf")

	t.Run("ByAuthorityID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/agent-authorities/resolve?agentAuthorityId="+authority.AgentAuthorityID, nil)
		rec := fixture.do(req, agent.UserAccountID)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resolved models.AgentAuthorityFormsResolved
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
		require.NotNil(t, resolved.CurrentForm)
		assert.Equal(t, form.AgentAuthorityFormID, resolved.CurrentForm.AgentAuthorityFormID)
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/agent-authorities/resolve?agentAuthorityId="+authority.AgentAuthorityID+"&at=yesterday", nil)
		rec := fixture.do(req, agent.UserAccountID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InternalRouteNeedsNoUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/internal/api/v1/agent-authorities/resolve?agentAuthorityId="+authority.AgentAuthorityID, nil)
		rec := fixture.do(req, "")
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestV1Handler_InternalDocumentsRoute(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)
	authority := fixture.createAuthority(t, agency.AgencyID, agent.UserAccountID)
	form := fixture.uploadForm(t, authority.AgentAuthorityID, agent.UserAccountID, "deed.pdf")

	req := httptest.NewRequest(http.MethodGet,
		"/internal/api/v1/agent-authorities/"+authority.AgentAuthorityID+"/forms/"+form.AgentAuthorityFormID+"/documents", nil)
	rec := fixture.do(req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("content of deed.pdf"), rec.Body.Bytes())
}

func TestV1Handler_UnknownRoutes(t *testing.T) {
	fixture := newHandlerFixture(t)
	agency := fixture.seedAgency(t)
	agent := fixture.seedUser(t, models.AccountTypeAgent, &agency.AgencyID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-authorities/aa_1/unknown", nil)
	rec := fixture.do(req, agent.UserAccountID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/agent-authorities", nil)
	rec = fixture.do(req, agent.UserAccountID)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
