package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forestry-sandbox/licensing-backend/shared/monitoring"
	"github.com/forestry-sandbox/licensing-backend/shared/utils"
	"github.com/forestry-sandbox/licensing-backend/v1/middleware"
	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"github.com/forestry-sandbox/licensing-backend/v1/services"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
	authutils "github.com/forestry-sandbox/licensing-backend/v1/utils"

	"gorm.io/gorm"
)

// maxUploadBytes bounds multipart form uploads (32 MiB)
const maxUploadBytes = 32 << 20

// V1Handler handles all V1 API routes
type V1Handler struct {
	authorityService *services.AgentAuthorityService
	documentService  *services.DocumentService
	accessService    *services.AccessService
}

// NewV1Handler creates a new V1 handler
func NewV1Handler(db *gorm.DB, fileStorage storage.FileStorage) *V1Handler {
	accessService := services.NewAccessService(db)
	authorityService := services.NewAgentAuthorityService(db, fileStorage, accessService)
	documentService := services.NewDocumentService(db, fileStorage, accessService, authorityService)

	return &V1Handler{
		authorityService: authorityService,
		documentService:  documentService,
		accessService:    accessService,
	}
}

// SetupV1Routes configures all V1 API routes
func (h *V1Handler) SetupV1Routes(mux *http.ServeMux) {
	// Agent authority routes
	mux.Handle("/api/v1/agent-authorities", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleAgentAuthorities)))
	mux.Handle("/api/v1/agent-authorities/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleAgentAuthorities)))

	// Internal routes for service-to-service callers; agency-matching
	// validation is skipped for these
	mux.Handle("/internal/api/v1/agent-authorities/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleInternalAgentAuthorities)))
}

// handleAgentAuthorities routes agent-authority requests by path shape
func (h *V1Handler) handleAgentAuthorities(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/agent-authorities")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	// Collection endpoint: POST / GET /api/v1/agent-authorities
	if len(parts) == 1 && parts[0] == "" {
		switch r.Method {
		case http.MethodPost:
			h.createAgentAuthority(w, r)
		case http.MethodGet:
			h.getAgentAuthoritiesByAgency(w, r)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/v1/agent-authorities/resolve and /status-check
	if len(parts) == 1 {
		switch parts[0] {
		case "resolve":
			h.resolveAgentAuthorityForm(w, r, models.AccessorKindExternalUser)
		case "status-check":
			h.checkAuthorityStatus(w, r)
		default:
			h.handleSingleAuthority(w, r, parts[0])
		}
		return
	}

	// /api/v1/agent-authorities/{id}/...
	authorityID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		h.deactivateAgentAuthority(w, r, authorityID)
	case len(parts) == 2 && parts[1] == "forms" && r.Method == http.MethodPost:
		h.addAgentAuthorityForm(w, r, authorityID)
	case len(parts) == 3 && parts[1] == "forms" && r.Method == http.MethodDelete:
		h.removeAgentAuthorityForm(w, r, authorityID, parts[2])
	case len(parts) == 4 && parts[1] == "forms" && parts[3] == "documents" && r.Method == http.MethodGet:
		h.getAgentAuthorityFormDocuments(w, r, authorityID, parts[2], models.AccessorKindExternalUser)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Resource not found")
	}
}

// handleSingleAuthority handles /api/v1/agent-authorities/{id}
func (h *V1Handler) handleSingleAuthority(w http.ResponseWriter, r *http.Request, authorityID string) {
	switch r.Method {
	case http.MethodDelete:
		h.deleteAgentAuthority(w, r, authorityID)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleInternalAgentAuthorities routes internal service-to-service requests
func (h *V1Handler) handleInternalAgentAuthorities(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/api/v1/agent-authorities")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "resolve":
		h.resolveAgentAuthorityForm(w, r, models.AccessorKindInternalSystem)
	case len(parts) == 1 && parts[0] == "status-check":
		h.checkAuthorityStatus(w, r)
	case len(parts) == 4 && parts[1] == "forms" && parts[3] == "documents" && r.Method == http.MethodGet:
		h.getAgentAuthorityFormDocuments(w, r, parts[0], parts[2], models.AccessorKindInternalSystem)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Resource not found")
	}
}

func (h *V1Handler) createAgentAuthority(w http.ResponseWriter, r *http.Request) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.CreateAgentAuthorityRequest
	if err := utils.ParseJSONRequest(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.CreatedByUserID = user.UserAccountID

	authority, err := h.authorityService.CreateAgentAuthority(r.Context(), &req)
	if err != nil {
		middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, nil, models.AuditStatusFailure)
		monitoring.RecordBusinessEvent("agent_authority_created", "error")
		respondServiceError(w, err)
		return
	}

	middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, &authority.AgentAuthorityID, models.AuditStatusSuccess)
	monitoring.RecordBusinessEvent("agent_authority_created", "success")
	utils.RespondWithJSON(w, http.StatusCreated, authority)
}

func (h *V1Handler) deleteAgentAuthority(w http.ResponseWriter, r *http.Request, authorityID string) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authorityService.DeleteAgentAuthority(r.Context(), authorityID, user.UserAccountID); err != nil {
		middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, &authorityID, models.AuditStatusFailure)
		monitoring.RecordBusinessEvent("agent_authority_deleted", "error")
		respondServiceError(w, err)
		return
	}

	middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, &authorityID, models.AuditStatusSuccess)
	monitoring.RecordBusinessEvent("agent_authority_deleted", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (h *V1Handler) getAgentAuthoritiesByAgency(w http.ResponseWriter, r *http.Request) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	agencyID := r.URL.Query().Get("agencyId")
	if agencyID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "agencyId query parameter is required")
		return
	}

	statuses, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := h.authorityService.GetAgentAuthoritiesByAgency(r.Context(), agencyID, statuses, user.UserAccountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, utils.CreateCollectionResponse(summaries, len(summaries)))
}

func (h *V1Handler) deactivateAgentAuthority(w http.ResponseWriter, r *http.Request, authorityID string) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authorityService.DeactivateAgentAuthority(r.Context(), authorityID, user.UserAccountID); err != nil {
		middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, &authorityID, models.AuditStatusFailure)
		monitoring.RecordBusinessEvent("agent_authority_deactivated", "error")
		respondServiceError(w, err)
		return
	}

	middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorities, &authorityID, models.AuditStatusSuccess)
	monitoring.RecordBusinessEvent("agent_authority_deactivated", "success")
	w.WriteHeader(http.StatusNoContent)
}

// addAgentAuthorityForm accepts a multipart upload of one or more documents
// and records them as a new agent authority form.
func (h *V1Handler) addAgentAuthorityForm(w http.ResponseWriter, r *http.Request, authorityID string) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	documents, err := parseDocumentUploads(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := &models.AddAgentAuthorityFormRequest{
		AgentAuthorityID: authorityID,
		UploadedByUserID: user.UserAccountID,
		Documents:        documents,
	}

	form, err := h.authorityService.AddAgentAuthorityForm(r.Context(), req)
	if err != nil {
		middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorityForms, &authorityID, models.AuditStatusFailure)
		monitoring.RecordBusinessEvent("authority_form_uploaded", "error")
		respondServiceError(w, err)
		return
	}

	middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorityForms, &form.AgentAuthorityFormID, models.AuditStatusSuccess)
	monitoring.RecordBusinessEvent("authority_form_uploaded", "success")
	utils.RespondWithJSON(w, http.StatusCreated, form)
}

func (h *V1Handler) removeAgentAuthorityForm(w http.ResponseWriter, r *http.Request, authorityID, formID string) {
	user, err := authutils.RequireAuthentication(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authorityService.RemoveAgentAuthorityForm(r.Context(), authorityID, formID, user.UserAccountID); err != nil {
		middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorityForms, &formID, models.AuditStatusFailure)
		monitoring.RecordBusinessEvent("authority_form_removed", "error")
		respondServiceError(w, err)
		return
	}

	middleware.LogAuditEvent(r, models.ResourceTypeAgentAuthorityForms, &formID, models.AuditStatusSuccess)
	monitoring.RecordBusinessEvent("authority_form_removed", "success")
	w.WriteHeader(http.StatusNoContent)
}

// getAgentAuthorityFormDocuments streams the form's documents, either a single
// file with its own MIME type or a ZIP bundle.
func (h *V1Handler) getAgentAuthorityFormDocuments(w http.ResponseWriter, r *http.Request, authorityID, formID string, kind models.AccessorKind) {
	accessor := models.InternalSystemAccessor()
	if kind == models.AccessorKindExternalUser {
		user, err := authutils.RequireAuthentication(r)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		accessor = models.UserAccessor(user.UserAccountID)
	}

	payload, err := h.documentService.GetAgentAuthorityFormDocuments(r.Context(), authorityID, formID, accessor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", payload.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", payload.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload.Content); err != nil {
		slog.Error("Failed to write document payload", "error", err, "formId", formID)
	}
}

// resolveAgentAuthorityForm answers point-in-time form resolution requests
func (h *V1Handler) resolveAgentAuthorityForm(w http.ResponseWriter, r *http.Request, kind models.AccessorKind) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accessor := models.InternalSystemAccessor()
	if kind == models.AccessorKindExternalUser {
		user, err := authutils.RequireAuthentication(r)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		accessor = models.UserAccessor(user.UserAccountID)
	}

	query := r.URL.Query()
	ref := models.AuthorityRef{
		AgentAuthorityID: query.Get("agentAuthorityId"),
		AgencyID:         query.Get("agencyId"),
		WoodlandOwnerID:  query.Get("woodlandOwnerId"),
	}

	var pointInTime *time.Time
	if at := query.Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		pointInTime = &parsed
	}

	resolved, err := h.authorityService.GetAgentAuthorityFormAsOf(r.Context(), ref, pointInTime, accessor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, resolved)
}

// checkAuthorityStatus answers whether an agency currently holds an authority
// for a woodland owner in one of the allowed statuses.
func (h *V1Handler) checkAuthorityStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	agencyID := query.Get("agencyId")
	woodlandOwnerID := query.Get("woodlandOwnerId")
	if agencyID == "" || woodlandOwnerID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "agencyId and woodlandOwnerId query parameters are required")
		return
	}

	allowed, err := parseStatusFilter(query.Get("allowed"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.authorityService.CheckAuthorityStatus(r.Context(), agencyID, woodlandOwnerID, allowed)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"allowed": ok})
}

// parseDocumentUploads reads all files from the multipart "documents" field
func parseDocumentUploads(r *http.Request) ([]models.DocumentUpload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	fileHeaders := r.MultipartForm.File["documents"]
	if len(fileHeaders) == 0 {
		return nil, fmt.Errorf("at least one document is required")
	}

	documents := make([]models.DocumentUpload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		file, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open uploaded file %q: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(file)
		closeErr := file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file %q: %w", fh.Filename, err)
		}
		if closeErr != nil {
			slog.Warn("Failed to close uploaded file", "fileName", fh.Filename, "error", closeErr)
		}

		documents = append(documents, models.DocumentUpload{
			FileName: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			FileType: r.FormValue("fileType"),
			Content:  content,
		})
	}

	return documents, nil
}

// parseStatusFilter parses a comma-separated status list; empty means no filter
func parseStatusFilter(raw string) ([]models.AgentAuthorityStatus, error) {
	if raw == "" {
		return nil, nil
	}

	var statuses []models.AgentAuthorityStatus
	for _, part := range strings.Split(raw, ",") {
		status := models.AgentAuthorityStatus(strings.TrimSpace(part))
		if !status.IsValid() {
			return nil, fmt.Errorf("unknown agent authority status: %s", status)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// respondServiceError maps service errors onto HTTP status codes
func respondServiceError(w http.ResponseWriter, err error) {
	var svcErr *models.ServiceError
	if errors.As(err, &svcErr) {
		utils.RespondWithError(w, svcErr.HTTPStatus(), svcErr.Message)
		return
	}
	utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
}
