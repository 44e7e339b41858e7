package models

import "time"

// CreateAgentAuthorityRequest defines the payload for creating an agent
// authority together with its woodland owner
type CreateAgentAuthorityRequest struct {
	AgencyID        string               `json:"agencyId"`
	WoodlandOwner   WoodlandOwnerDetails `json:"woodlandOwner"`
	CreatedByUserID string               `json:"-"`
}

// WoodlandOwnerDetails carries the woodland owner record created alongside a
// new agent authority
type WoodlandOwnerDetails struct {
	ContactName      string  `json:"contactName"`
	ContactEmail     string  `json:"contactEmail"`
	OrganisationName *string `json:"organisationName,omitempty"`
}

// AgentAuthorityResponse is returned after creating an agent authority
type AgentAuthorityResponse struct {
	AgentAuthorityID string               `json:"agentAuthorityId"`
	AgencyID         string               `json:"agencyId"`
	WoodlandOwnerID  string               `json:"woodlandOwnerId"`
	Status           AgentAuthorityStatus `json:"status"`
	CreatedAt        string               `json:"createdAt"`
}

// AgentAuthoritySummary is one entry in an agency's authority listing
type AgentAuthoritySummary struct {
	AgentAuthorityID string                      `json:"agentAuthorityId"`
	AgencyID         string                      `json:"agencyId"`
	Status           AgentAuthorityStatus        `json:"status"`
	WoodlandOwner    WoodlandOwnerSummary        `json:"woodlandOwner"`
	CurrentForm      *AgentAuthorityFormSummary  `json:"currentForm,omitempty"`
	HistoricForms    []AgentAuthorityFormSummary `json:"historicForms,omitempty"`
	CreatedAt        string                      `json:"createdAt"`
}

// WoodlandOwnerSummary is the woodland-owner contact block nested in listings
type WoodlandOwnerSummary struct {
	WoodlandOwnerID  string  `json:"woodlandOwnerId"`
	ContactName      string  `json:"contactName"`
	ContactEmail     string  `json:"contactEmail"`
	OrganisationName *string `json:"organisationName,omitempty"`
}

// AgentAuthorityFormSummary describes one form's validity window and documents
type AgentAuthorityFormSummary struct {
	AgentAuthorityFormID string                `json:"agentAuthorityFormId"`
	ValidFromDate        time.Time             `json:"validFromDate"`
	ValidToDate          *time.Time            `json:"validToDate,omitempty"`
	Documents            []AafDocumentResponse `json:"documents,omitempty"`
}

// DocumentUpload is a single file payload submitted with a form upload
type DocumentUpload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileType string `json:"fileType,omitempty"`
	Content  []byte `json:"-"`
}

// AddAgentAuthorityFormRequest defines the payload for uploading a new agent
// authority form
type AddAgentAuthorityFormRequest struct {
	AgentAuthorityID string           `json:"agentAuthorityId"`
	UploadedByUserID string           `json:"-"`
	Documents        []DocumentUpload `json:"-"`
}

// AgentAuthorityFormResponse is returned after a successful form upload
type AgentAuthorityFormResponse struct {
	AgentAuthorityFormID string                `json:"agentAuthorityFormId"`
	AgentAuthorityID     string                `json:"agentAuthorityId"`
	ValidFromDate        time.Time             `json:"validFromDate"`
	ValidToDate          *time.Time            `json:"validToDate,omitempty"`
	Documents            []AafDocumentResponse `json:"documents"`
}

// AafDocumentResponse is the stored metadata for one uploaded document
type AafDocumentResponse struct {
	AafDocumentID string `json:"aafDocumentId"`
	FileName      string `json:"fileName"`
	FileSize      int64  `json:"fileSize"`
	MimeType      string `json:"mimeType"`
	FileType      string `json:"fileType,omitempty"`
}

// AuthorityRef identifies an agent authority either directly by id or by its
// agency / woodland-owner pair
type AuthorityRef struct {
	AgentAuthorityID string `json:"agentAuthorityId,omitempty"`
	AgencyID         string `json:"agencyId,omitempty"`
	WoodlandOwnerID  string `json:"woodlandOwnerId,omitempty"`
}

// AgentAuthorityFormsResolved is the result of point-in-time resolution: the
// form current right now plus the form whose window contains the requested
// point in time. Either may be absent.
type AgentAuthorityFormsResolved struct {
	AgentAuthorityID string                     `json:"agentAuthorityId"`
	PointInTime      time.Time                  `json:"pointInTime"`
	CurrentForm      *AgentAuthorityFormSummary `json:"currentForm,omitempty"`
	AsOfForm         *AgentAuthorityFormSummary `json:"asOfForm,omitempty"`
}

// DocumentPayload is the retrieval result for form documents: either a single
// file's bytes with its own MIME type, or a ZIP bundle.
type DocumentPayload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"-"`
}

// AccessorKind distinguishes document retrieval callers
type AccessorKind string

const (
	// AccessorKindInternalSystem is an internal caller; agency-matching
	// validation is skipped
	AccessorKindInternalSystem AccessorKind = "internal_system"
	// AccessorKindExternalUser is an identified external user; the full
	// permission rule set applies
	AccessorKindExternalUser AccessorKind = "external_user"
)

// Accessor is the capability value passed into document retrieval, selecting
// which validation rule set applies
type Accessor struct {
	Kind   AccessorKind
	UserID string
}

// InternalSystemAccessor returns the internal-caller capability
func InternalSystemAccessor() Accessor {
	return Accessor{Kind: AccessorKindInternalSystem}
}

// UserAccessor returns the capability for an identified external user
func UserAccessor(userID string) Accessor {
	return Accessor{Kind: AccessorKindExternalUser, UserID: userID}
}
