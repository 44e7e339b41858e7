package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"
)

// AgentAuthorityStatus represents the lifecycle status of an agent authority
type AgentAuthorityStatus string

const (
	// AgentAuthorityStatusCreated means the authority exists but carries no
	// current agent authority form
	AgentAuthorityStatusCreated AgentAuthorityStatus = "created"
	// AgentAuthorityStatusFormUploaded means a current agent authority form
	// evidences the authority
	AgentAuthorityStatusFormUploaded AgentAuthorityStatus = "form_uploaded"
	// AgentAuthorityStatusDeactivated is terminal; no form may be uploaded
	// or removed once an authority is deactivated
	AgentAuthorityStatusDeactivated AgentAuthorityStatus = "deactivated"
)

// Scan implements the sql.Scanner interface for AgentAuthorityStatus
func (s *AgentAuthorityStatus) Scan(value interface{}) error {
	if value == nil {
		*s = AgentAuthorityStatusCreated
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = AgentAuthorityStatus(v)
		return nil
	case []byte:
		*s = AgentAuthorityStatus(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into AgentAuthorityStatus", value)
}

// Value implements the driver.Valuer interface for AgentAuthorityStatus
func (s AgentAuthorityStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// IsValid checks if the status is one of the known lifecycle values
func (s AgentAuthorityStatus) IsValid() bool {
	switch s {
	case AgentAuthorityStatusCreated, AgentAuthorityStatusFormUploaded, AgentAuthorityStatusDeactivated:
		return true
	}
	return false
}

// AgentAuthority records an agency's authorization relationship with one
// woodland owner. Historical agent authority forms are retained on the
// authority and never deleted.
type AgentAuthority struct {
	AgentAuthorityID string               `gorm:"primarykey;column:agent_authority_id" json:"agentAuthorityId"`
	AgencyID         string               `gorm:"column:agency_id;not null;index" json:"agencyId"`
	Agency           *Agency              `gorm:"foreignKey:AgencyID;references:AgencyID" json:"agency,omitempty"`
	WoodlandOwnerID  string               `gorm:"column:woodland_owner_id;not null;index" json:"woodlandOwnerId"`
	WoodlandOwner    *WoodlandOwner       `gorm:"foreignKey:WoodlandOwnerID;references:WoodlandOwnerID" json:"woodlandOwner,omitempty"`
	Status           AgentAuthorityStatus `gorm:"column:status;not null" json:"status"`
	Forms            []AgentAuthorityForm `gorm:"foreignKey:AgentAuthorityID;references:AgentAuthorityID" json:"forms,omitempty"`
	CreatedByUserID  string               `gorm:"column:created_by_user_id;not null" json:"createdByUserId"`
	ChangedByUserID  *string              `gorm:"column:changed_by_user_id" json:"changedByUserId,omitempty"`
	ChangedAt        *time.Time           `gorm:"column:changed_at" json:"changedAt,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (AgentAuthority) TableName() string {
	return "agent_authorities"
}

// CurrentForm returns the form with no valid-to date, or nil when none is
// current. At most one such form exists per authority after any completed
// operation; callers that need the defensive multi-match handling should use
// CurrentForms.
func (a *AgentAuthority) CurrentForm() *AgentAuthorityForm {
	forms := a.CurrentForms()
	if len(forms) == 0 {
		return nil
	}
	return forms[0]
}

// CurrentForms returns every form with no valid-to date, ordered by ascending
// valid-from date. More than one entry indicates corrupted data.
func (a *AgentAuthority) CurrentForms() []*AgentAuthorityForm {
	var current []*AgentAuthorityForm
	for i := range a.Forms {
		if a.Forms[i].ValidToDate == nil {
			current = append(current, &a.Forms[i])
		}
	}
	sortFormsByValidFrom(current)
	return current
}

// FormsAt returns every form whose validity window contains t, ordered by
// ascending valid-from date. More than one entry indicates corrupted data.
func (a *AgentAuthority) FormsAt(t time.Time) []*AgentAuthorityForm {
	var matching []*AgentAuthorityForm
	for i := range a.Forms {
		if a.Forms[i].CoversTime(t) {
			matching = append(matching, &a.Forms[i])
		}
	}
	sortFormsByValidFrom(matching)
	return matching
}

// FindForm returns the form with the given id, or nil when the authority
// carries no such form
func (a *AgentAuthority) FindForm(formID string) *AgentAuthorityForm {
	for i := range a.Forms {
		if a.Forms[i].AgentAuthorityFormID == formID {
			return &a.Forms[i]
		}
	}
	return nil
}

func sortFormsByValidFrom(forms []*AgentAuthorityForm) {
	sort.SliceStable(forms, func(i, j int) bool {
		return forms[i].ValidFromDate.Before(forms[j].ValidFromDate)
	})
}

// AgentAuthorityForm is a time-windowed, document-evidenced instance of an
// agency's authorization. A nil ValidToDate marks the form as current.
type AgentAuthorityForm struct {
	AgentAuthorityFormID string        `gorm:"primarykey;column:agent_authority_form_id" json:"agentAuthorityFormId"`
	AgentAuthorityID     string        `gorm:"column:agent_authority_id;not null;index" json:"agentAuthorityId"`
	ValidFromDate        time.Time     `gorm:"column:valid_from_date;not null" json:"validFromDate"`
	ValidToDate          *time.Time    `gorm:"column:valid_to_date" json:"validToDate,omitempty"`
	UploadedByUserID     string        `gorm:"column:uploaded_by_user_id;not null" json:"uploadedByUserId"`
	Documents            []AafDocument `gorm:"foreignKey:AgentAuthorityFormID;references:AgentAuthorityFormID" json:"documents,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (AgentAuthorityForm) TableName() string {
	return "agent_authority_forms"
}

// IsCurrent reports whether the form has no valid-to date
func (f *AgentAuthorityForm) IsCurrent() bool {
	return f.ValidToDate == nil
}

// CoversTime reports whether t falls inside the form's half-open validity
// window [validFromDate, validToDate). A closed form's valid-to instant
// belongs to its successor, not to the closed form.
func (f *AgentAuthorityForm) CoversTime(t time.Time) bool {
	if f.ValidFromDate.After(t) {
		return false
	}
	return f.ValidToDate == nil || f.ValidToDate.After(t)
}

// AafDocument is a single uploaded file evidencing an agent authority form.
// The content lives in file storage; Location is the only link to it.
type AafDocument struct {
	AafDocumentID        string `gorm:"primarykey;column:aaf_document_id" json:"aafDocumentId"`
	AgentAuthorityFormID string `gorm:"column:agent_authority_form_id;not null;index" json:"agentAuthorityFormId"`
	FileName             string `gorm:"column:file_name;not null" json:"fileName"`
	FileSize             int64  `gorm:"column:file_size;not null" json:"fileSize"`
	MimeType             string `gorm:"column:mime_type;not null" json:"mimeType"`
	FileType             string `gorm:"column:file_type" json:"fileType"`
	Location             string `gorm:"column:location;not null" json:"-"`
	BaseModel
}

// TableName sets the table name for GORM
func (AafDocument) TableName() string {
	return "aaf_documents"
}
