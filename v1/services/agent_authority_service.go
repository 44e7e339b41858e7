package services

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AgentAuthorityService enforces the agent authority state machine and the
// temporal-validity invariants over agent authority forms: at most one
// current form per authority, non-overlapping validity windows, and status
// transitions gated by the document state.
type AgentAuthorityService struct {
	db          *gorm.DB
	fileStorage storage.FileStorage
	access      *AccessService
}

// NewAgentAuthorityService creates a new agent authority service
func NewAgentAuthorityService(db *gorm.DB, fileStorage storage.FileStorage, access *AccessService) *AgentAuthorityService {
	return &AgentAuthorityService{db: db, fileStorage: fileStorage, access: access}
}

// CreateAgentAuthority creates an agent authority together with its woodland
// owner record in a single transaction. The new authority starts in the
// created status with no forms.
func (s *AgentAuthorityService) CreateAgentAuthority(ctx context.Context, req *models.CreateAgentAuthorityRequest) (*models.AgentAuthorityResponse, error) {
	if err := validateCreateAuthorityRequest(req); err != nil {
		return nil, err
	}

	var agency models.Agency
	if err := s.db.WithContext(ctx).First(&agency, "agency_id = ?", req.AgencyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("agency not found")
		}
		return nil, models.NewInternalError("failed to look up agency", err)
	}

	user, err := s.access.GetUser(ctx, req.CreatedByUserID)
	if err != nil {
		return nil, err
	}
	if err := s.access.EnsureCanActForAgency(user, req.AgencyID); err != nil {
		return nil, err
	}

	woodlandOwner := models.WoodlandOwner{
		WoodlandOwnerID:  "wo_" + uuid.New().String(),
		ContactName:      req.WoodlandOwner.ContactName,
		ContactEmail:     req.WoodlandOwner.ContactEmail,
		OrganisationName: req.WoodlandOwner.OrganisationName,
	}
	authority := models.AgentAuthority{
		AgentAuthorityID: "aa_" + uuid.New().String(),
		AgencyID:         req.AgencyID,
		WoodlandOwnerID:  woodlandOwner.WoodlandOwnerID,
		Status:           models.AgentAuthorityStatusCreated,
		CreatedByUserID:  user.UserAccountID,
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, models.NewPersistenceFailureError("failed to start transaction", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Create(&woodlandOwner).Error; err != nil {
		tx.Rollback()
		return nil, models.NewPersistenceFailureError("failed to create woodland owner", err)
	}
	if err := tx.Create(&authority).Error; err != nil {
		tx.Rollback()
		return nil, models.NewPersistenceFailureError("failed to create agent authority", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, models.NewPersistenceFailureError("failed to commit agent authority", err)
	}

	slog.Info("Agent authority created",
		"agentAuthorityID", authority.AgentAuthorityID,
		"agencyID", authority.AgencyID,
		"woodlandOwnerID", woodlandOwner.WoodlandOwnerID)

	return &models.AgentAuthorityResponse{
		AgentAuthorityID: authority.AgentAuthorityID,
		AgencyID:         authority.AgencyID,
		WoodlandOwnerID:  authority.WoodlandOwnerID,
		Status:           authority.Status,
		CreatedAt:        authority.CreatedAt.Format(time.RFC3339),
	}, nil
}

// DeleteAgentAuthority removes the whole authority aggregate: the authority
// row, its forms and their document rows. Stored document content is removed
// best-effort after the delete commits.
func (s *AgentAuthorityService) DeleteAgentAuthority(ctx context.Context, authorityID, userID string) error {
	authority, err := s.loadAuthority(ctx, authorityID)
	if err != nil {
		return err
	}
	user, err := s.access.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.access.EnsureCanManageAuthority(user, authority); err != nil {
		return err
	}

	var locations []string
	for _, form := range authority.Forms {
		for _, doc := range form.Documents {
			locations = append(locations, doc.Location)
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return models.NewPersistenceFailureError("failed to start transaction", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Where("agent_authority_form_id IN (?)",
		tx.Model(&models.AgentAuthorityForm{}).Select("agent_authority_form_id").Where("agent_authority_id = ?", authorityID),
	).Delete(&models.AafDocument{}).Error; err != nil {
		tx.Rollback()
		return models.NewPersistenceFailureError("failed to delete agent authority documents", err)
	}
	if err := tx.Where("agent_authority_id = ?", authorityID).Delete(&models.AgentAuthorityForm{}).Error; err != nil {
		tx.Rollback()
		return models.NewPersistenceFailureError("failed to delete agent authority forms", err)
	}
	if err := tx.Delete(&models.AgentAuthority{}, "agent_authority_id = ?", authorityID).Error; err != nil {
		tx.Rollback()
		return models.NewPersistenceFailureError("failed to delete agent authority", err)
	}
	if err := tx.Commit().Error; err != nil {
		return models.NewPersistenceFailureError("failed to commit agent authority delete", err)
	}

	s.removeStoredDocuments(ctx, locations)

	slog.Info("Agent authority deleted", "agentAuthorityID", authorityID, "removedDocuments", len(locations))
	return nil
}

// GetAgentAuthoritiesByAgency lists an agency's authorities with nested
// current and historic form summaries. An empty status filter means all
// statuses.
func (s *AgentAuthorityService) GetAgentAuthoritiesByAgency(ctx context.Context, agencyID string, statuses []models.AgentAuthorityStatus, userID string) ([]models.AgentAuthoritySummary, error) {
	if agencyID == "" {
		return nil, models.NewInvalidInputError("agency id is required")
	}
	user, err := s.access.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.access.EnsureCanActForAgency(user, agencyID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("agency_id = ?", agencyID).
		Preload("WoodlandOwner").
		Preload("Forms", func(db *gorm.DB) *gorm.DB {
			return db.Order("valid_from_date ASC")
		}).
		Preload("Forms.Documents").
		Order("created_at ASC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var authorities []models.AgentAuthority
	if err := query.Find(&authorities).Error; err != nil {
		return nil, models.NewInternalError("failed to list agent authorities", err)
	}

	summaries := make([]models.AgentAuthoritySummary, 0, len(authorities))
	for i := range authorities {
		summaries = append(summaries, buildAuthoritySummary(&authorities[i]))
	}
	return summaries, nil
}

// AddAgentAuthorityForm uploads a new agent authority form. Any current form
// is closed in the same transaction that opens the new one, so no
// intermediate state with zero or two current forms is observable. A failure
// while storing any document, or a failed commit, rolls back the stored
// documents created by this call.
func (s *AgentAuthorityService) AddAgentAuthorityForm(ctx context.Context, req *models.AddAgentAuthorityFormRequest) (*models.AgentAuthorityFormResponse, error) {
	if err := validateAddFormRequest(req); err != nil {
		return nil, err
	}

	authority, err := s.loadAuthority(ctx, req.AgentAuthorityID)
	if err != nil {
		return nil, err
	}
	if authority.Status == models.AgentAuthorityStatusDeactivated {
		return nil, models.NewInvalidStateError("agent authority is deactivated")
	}
	user, err := s.access.GetUser(ctx, req.UploadedByUserID)
	if err != nil {
		return nil, err
	}
	if err := s.access.EnsureCanManageAuthority(user, authority); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	form := models.AgentAuthorityForm{
		AgentAuthorityFormID: "aaf_" + uuid.New().String(),
		AgentAuthorityID:     authority.AgentAuthorityID,
		ValidFromDate:        now,
		UploadedByUserID:     user.UserAccountID,
	}

	storageDir := path.Join(authority.AgentAuthorityID, models.AafDocumentPathSegment)
	var storedLocations []string
	for _, upload := range req.Documents {
		location, err := s.fileStorage.Store(ctx, upload.FileName, upload.Content, storageDir, false)
		if err != nil {
			s.removeStoredDocuments(ctx, storedLocations)
			return nil, models.NewStorageFailureError("failed to store agent authority form document", err)
		}
		storedLocations = append(storedLocations, location)
		form.Documents = append(form.Documents, models.AafDocument{
			AafDocumentID:        "doc_" + uuid.New().String(),
			AgentAuthorityFormID: form.AgentAuthorityFormID,
			FileName:             upload.FileName,
			FileSize:             int64(len(upload.Content)),
			MimeType:             upload.MimeType,
			FileType:             upload.FileType,
			Location:             location,
		})
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		s.removeStoredDocuments(ctx, storedLocations)
		return nil, models.NewPersistenceFailureError("failed to start transaction", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// Closing the prior current form and opening the new one commit together.
	if err := tx.Model(&models.AgentAuthorityForm{}).
		Where("agent_authority_id = ? AND valid_to_date IS NULL", authority.AgentAuthorityID).
		Update("valid_to_date", now).Error; err != nil {
		tx.Rollback()
		s.removeStoredDocuments(ctx, storedLocations)
		return nil, models.NewPersistenceFailureError("failed to close current agent authority form", err)
	}
	if err := tx.Create(&form).Error; err != nil {
		tx.Rollback()
		s.removeStoredDocuments(ctx, storedLocations)
		return nil, models.NewPersistenceFailureError("failed to create agent authority form", err)
	}
	if err := tx.Model(&models.AgentAuthority{}).
		Where("agent_authority_id = ?", authority.AgentAuthorityID).
		Updates(map[string]interface{}{
			"status":             models.AgentAuthorityStatusFormUploaded,
			"changed_by_user_id": user.UserAccountID,
			"changed_at":         now,
		}).Error; err != nil {
		tx.Rollback()
		s.removeStoredDocuments(ctx, storedLocations)
		return nil, models.NewPersistenceFailureError("failed to update agent authority status", err)
	}
	if err := tx.Commit().Error; err != nil {
		s.removeStoredDocuments(ctx, storedLocations)
		return nil, models.NewPersistenceFailureError("failed to commit agent authority form", err)
	}

	slog.Info("Agent authority form uploaded",
		"agentAuthorityID", authority.AgentAuthorityID,
		"agentAuthorityFormID", form.AgentAuthorityFormID,
		"documents", len(form.Documents))

	return buildFormResponse(&form), nil
}

// RemoveAgentAuthorityForm closes the named form. Removing an already-closed
// form succeeds without changing it. Document content and document rows are
// retained for history. When no current form remains, the authority's status
// reverts to created.
func (s *AgentAuthorityService) RemoveAgentAuthorityForm(ctx context.Context, authorityID, formID, userID string) error {
	if formID == "" {
		return models.NewInvalidInputError("agent authority form id is required")
	}

	authority, err := s.loadAuthority(ctx, authorityID)
	if err != nil {
		return err
	}
	if authority.Status == models.AgentAuthorityStatusDeactivated {
		return models.NewInvalidStateError("agent authority is deactivated")
	}
	user, err := s.access.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.access.EnsureCanManageAuthority(user, authority); err != nil {
		return err
	}

	form := authority.FindForm(formID)
	if form == nil {
		return models.NewNotFoundError("agent authority form not found on this authority")
	}
	if !form.IsCurrent() {
		// Idempotent: the form is already closed, its window stays as it is.
		return nil
	}

	now := time.Now().UTC()
	currentRemains := false
	for _, other := range authority.CurrentForms() {
		if other.AgentAuthorityFormID != formID {
			currentRemains = true
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return models.NewPersistenceFailureError("failed to start transaction", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Model(&models.AgentAuthorityForm{}).
		Where("agent_authority_form_id = ? AND valid_to_date IS NULL", formID).
		Update("valid_to_date", now).Error; err != nil {
		tx.Rollback()
		return models.NewPersistenceFailureError("failed to close agent authority form", err)
	}

	updates := map[string]interface{}{
		"changed_by_user_id": user.UserAccountID,
		"changed_at":         now,
	}
	if !currentRemains {
		updates["status"] = models.AgentAuthorityStatusCreated
	}
	if err := tx.Model(&models.AgentAuthority{}).
		Where("agent_authority_id = ?", authority.AgentAuthorityID).
		Updates(updates).Error; err != nil {
		tx.Rollback()
		return models.NewPersistenceFailureError("failed to update agent authority status", err)
	}
	if err := tx.Commit().Error; err != nil {
		return models.NewPersistenceFailureError("failed to commit agent authority form removal", err)
	}

	slog.Info("Agent authority form removed",
		"agentAuthorityID", authority.AgentAuthorityID,
		"agentAuthorityFormID", formID)
	return nil
}

// DeactivateAgentAuthority moves the authority into its terminal status.
// Only FC super users may deactivate; the operation is idempotent.
func (s *AgentAuthorityService) DeactivateAgentAuthority(ctx context.Context, authorityID, userID string) error {
	authority, err := s.loadAuthority(ctx, authorityID)
	if err != nil {
		return err
	}
	user, err := s.access.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsFcSuperUser() {
		return models.NewPermissionDeniedError("only FC users may deactivate an agent authority")
	}
	if authority.Status == models.AgentAuthorityStatusDeactivated {
		return nil
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.AgentAuthority{}).
		Where("agent_authority_id = ?", authority.AgentAuthorityID).
		Updates(map[string]interface{}{
			"status":             models.AgentAuthorityStatusDeactivated,
			"changed_by_user_id": user.UserAccountID,
			"changed_at":         now,
		}).Error; err != nil {
		return models.NewPersistenceFailureError("failed to deactivate agent authority", err)
	}

	slog.Info("Agent authority deactivated", "agentAuthorityID", authority.AgentAuthorityID)
	return nil
}

// GetAgentAuthorityFormAsOf resolves, for an authority referenced by id or by
// its agency / woodland-owner pair, both the currently open form and the form
// whose validity window contains the given point in time (defaulting to now).
func (s *AgentAuthorityService) GetAgentAuthorityFormAsOf(ctx context.Context, ref models.AuthorityRef, pointInTime *time.Time, accessor models.Accessor) (*models.AgentAuthorityFormsResolved, error) {
	authority, err := s.resolveAuthorityRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if accessor.Kind == models.AccessorKindExternalUser {
		user, err := s.access.GetUser(ctx, accessor.UserID)
		if err != nil {
			return nil, err
		}
		if err := s.access.EnsureCanManageAuthority(user, authority); err != nil {
			return nil, err
		}
	}

	t := time.Now().UTC()
	if pointInTime != nil {
		t = pointInTime.UTC()
	}

	resolved := &models.AgentAuthorityFormsResolved{
		AgentAuthorityID: authority.AgentAuthorityID,
		PointInTime:      t,
	}

	current := authority.CurrentForms()
	if len(current) > 1 {
		slog.Error("Data integrity alarm: multiple current agent authority forms",
			"agentAuthorityID", authority.AgentAuthorityID, "count", len(current))
	}
	if len(current) > 0 {
		summary := buildFormSummary(current[0])
		resolved.CurrentForm = &summary
	}

	asOf := authority.FormsAt(t)
	if len(asOf) > 1 {
		slog.Error("Data integrity alarm: overlapping agent authority form windows",
			"agentAuthorityID", authority.AgentAuthorityID, "pointInTime", t, "count", len(asOf))
	}
	if len(asOf) > 0 {
		summary := buildFormSummary(asOf[0])
		resolved.AsOfForm = &summary
	}

	return resolved, nil
}

// CheckAuthorityStatus reports whether the authority for the given agency and
// woodland owner has one of the allowed statuses. An empty allowed set means
// any status passes. No authority at all fails the check without error.
func (s *AgentAuthorityService) CheckAuthorityStatus(ctx context.Context, agencyID, woodlandOwnerID string, allowed []models.AgentAuthorityStatus) (bool, error) {
	if agencyID == "" || woodlandOwnerID == "" {
		return false, models.NewInvalidInputError("agency id and woodland owner id are required")
	}

	var authority models.AgentAuthority
	err := s.db.WithContext(ctx).
		Select("status").
		Where("agency_id = ? AND woodland_owner_id = ?", agencyID, woodlandOwnerID).
		First(&authority).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, models.NewInternalError("failed to look up agent authority status", err)
	}

	if len(allowed) == 0 {
		return true, nil
	}
	for _, status := range allowed {
		if authority.Status == status {
			return true, nil
		}
	}
	return false, nil
}

// loadAuthority fetches an authority with its forms and documents, forms
// ordered by ascending valid-from date
func (s *AgentAuthorityService) loadAuthority(ctx context.Context, authorityID string) (*models.AgentAuthority, error) {
	if authorityID == "" {
		return nil, models.NewInvalidInputError("agent authority id is required")
	}
	var authority models.AgentAuthority
	err := s.db.WithContext(ctx).
		Preload("Forms", func(db *gorm.DB) *gorm.DB {
			return db.Order("valid_from_date ASC")
		}).
		Preload("Forms.Documents").
		First(&authority, "agent_authority_id = ?", authorityID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("agent authority not found")
		}
		return nil, models.NewInternalError("failed to look up agent authority", err)
	}
	return &authority, nil
}

// resolveAuthorityRef loads an authority by id or by agency / woodland-owner
// pair
func (s *AgentAuthorityService) resolveAuthorityRef(ctx context.Context, ref models.AuthorityRef) (*models.AgentAuthority, error) {
	if ref.AgentAuthorityID != "" {
		return s.loadAuthority(ctx, ref.AgentAuthorityID)
	}
	if ref.AgencyID == "" || ref.WoodlandOwnerID == "" {
		return nil, models.NewInvalidInputError("an authority id or an agency and woodland owner pair is required")
	}
	var authority models.AgentAuthority
	err := s.db.WithContext(ctx).
		Preload("Forms", func(db *gorm.DB) *gorm.DB {
			return db.Order("valid_from_date ASC")
		}).
		Preload("Forms.Documents").
		Where("agency_id = ? AND woodland_owner_id = ?", ref.AgencyID, ref.WoodlandOwnerID).
		First(&authority).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("agent authority not found")
		}
		return nil, models.NewInternalError("failed to look up agent authority", err)
	}
	return &authority, nil
}

// removeStoredDocuments is the best-effort compensation path: removal
// failures are logged, never returned, and never override the failure being
// reported. Cleanup proceeds even when the triggering failure was a
// cancelled context.
func (s *AgentAuthorityService) removeStoredDocuments(ctx context.Context, locations []string) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, location := range locations {
		if err := s.fileStorage.Remove(cleanupCtx, location); err != nil {
			slog.Warn("Failed to remove stored document during rollback",
				"location", location, "error", err)
		}
	}
}

func validateCreateAuthorityRequest(req *models.CreateAgentAuthorityRequest) error {
	if req == nil {
		return models.NewInvalidInputError("request body is required")
	}
	if req.AgencyID == "" {
		return models.NewInvalidInputError("agency id is required")
	}
	if req.WoodlandOwner.ContactName == "" || req.WoodlandOwner.ContactEmail == "" {
		return models.NewInvalidInputError("woodland owner contact name and email are required")
	}
	if len(req.WoodlandOwner.ContactName) > models.MaxNameLength {
		return models.NewInvalidInputError("woodland owner contact name is too long")
	}
	if len(req.WoodlandOwner.ContactEmail) > models.MaxEmailLength {
		return models.NewInvalidInputError("woodland owner contact email is too long")
	}
	return nil
}

func validateAddFormRequest(req *models.AddAgentAuthorityFormRequest) error {
	if req == nil {
		return models.NewInvalidInputError("request body is required")
	}
	if req.AgentAuthorityID == "" {
		return models.NewInvalidInputError("agent authority id is required")
	}
	if len(req.Documents) == 0 {
		return models.NewInvalidInputError("at least one document is required")
	}
	for _, doc := range req.Documents {
		if doc.FileName == "" {
			return models.NewInvalidInputError("every document needs a file name")
		}
		if len(doc.FileName) > models.MaxFileNameLength {
			return models.NewInvalidInputError("document file name is too long")
		}
		if len(doc.Content) == 0 {
			return models.NewInvalidInputError("empty documents are not accepted")
		}
	}
	return nil
}

func buildAuthoritySummary(authority *models.AgentAuthority) models.AgentAuthoritySummary {
	summary := models.AgentAuthoritySummary{
		AgentAuthorityID: authority.AgentAuthorityID,
		AgencyID:         authority.AgencyID,
		Status:           authority.Status,
		CreatedAt:        authority.CreatedAt.Format(time.RFC3339),
	}
	if authority.WoodlandOwner != nil {
		summary.WoodlandOwner = models.WoodlandOwnerSummary{
			WoodlandOwnerID:  authority.WoodlandOwner.WoodlandOwnerID,
			ContactName:      authority.WoodlandOwner.ContactName,
			ContactEmail:     authority.WoodlandOwner.ContactEmail,
			OrganisationName: authority.WoodlandOwner.OrganisationName,
		}
	}
	for i := range authority.Forms {
		form := &authority.Forms[i]
		formSummary := buildFormSummary(form)
		if form.IsCurrent() && summary.CurrentForm == nil {
			summary.CurrentForm = &formSummary
		} else {
			summary.HistoricForms = append(summary.HistoricForms, formSummary)
		}
	}
	return summary
}

func buildFormSummary(form *models.AgentAuthorityForm) models.AgentAuthorityFormSummary {
	summary := models.AgentAuthorityFormSummary{
		AgentAuthorityFormID: form.AgentAuthorityFormID,
		ValidFromDate:        form.ValidFromDate,
		ValidToDate:          form.ValidToDate,
	}
	for _, doc := range form.Documents {
		summary.Documents = append(summary.Documents, buildDocumentResponse(&doc))
	}
	return summary
}

func buildFormResponse(form *models.AgentAuthorityForm) *models.AgentAuthorityFormResponse {
	response := &models.AgentAuthorityFormResponse{
		AgentAuthorityFormID: form.AgentAuthorityFormID,
		AgentAuthorityID:     form.AgentAuthorityID,
		ValidFromDate:        form.ValidFromDate,
		ValidToDate:          form.ValidToDate,
	}
	for _, doc := range form.Documents {
		response.Documents = append(response.Documents, buildDocumentResponse(&doc))
	}
	return response
}

func buildDocumentResponse(doc *models.AafDocument) models.AafDocumentResponse {
	return models.AafDocumentResponse{
		AafDocumentID: doc.AafDocumentID,
		FileName:      doc.FileName,
		FileSize:      doc.FileSize,
		MimeType:      doc.MimeType,
		FileType:      doc.FileType,
	}
}
