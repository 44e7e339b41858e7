package models

// AccountType represents the different kinds of user accounts in the system
type AccountType string

const (
	// AccountTypeWoodlandOwner is a plain applicant tied to a single woodland owner
	AccountTypeWoodlandOwner AccountType = "woodland_owner"
	// AccountTypeAgent is an agency user tied to one agency
	AccountTypeAgent AccountType = "agent"
	// AccountTypeFcUser is a Forestry Commission super user that bypasses
	// agency-matching permission checks
	AccountTypeFcUser AccountType = "fc_user"
)

// AuditStatus represents the status of audit events
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// ResourceType represents different resource types for auditing
type ResourceType string

const (
	ResourceTypeAgentAuthorities    ResourceType = "AGENT-AUTHORITIES"
	ResourceTypeAgentAuthorityForms ResourceType = "AGENT-AUTHORITY-FORMS"
)

// Field length constraints remain as regular constants
const (
	MaxNameLength     = 255
	MaxEmailLength    = 320 // RFC 3696 specification
	MaxFileNameLength = 255
)

// AafBundleFileName is the name of the archive returned when an agent
// authority form carries more than one document.
const AafBundleFileName = "AAF Document.zip"

// AafDocumentPathSegment is the directory segment documents are stored
// under within an authority's storage prefix.
const AafDocumentPathSegment = "AAF_document"
