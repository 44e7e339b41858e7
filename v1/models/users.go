package models

// Agency represents an organization permitted to act on behalf of woodland
// owners once authorized
type Agency struct {
	AgencyID     string  `gorm:"primarykey;column:agency_id" json:"agencyId"`
	Name         string  `gorm:"column:name;not null" json:"name"`
	ContactEmail *string `gorm:"column:contact_email" json:"contactEmail,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (Agency) TableName() string {
	return "agencies"
}

// WoodlandOwner is the party whose forestry land and licensing matters are
// being managed. One is created alongside each agent authority.
type WoodlandOwner struct {
	WoodlandOwnerID  string  `gorm:"primarykey;column:woodland_owner_id" json:"woodlandOwnerId"`
	ContactName      string  `gorm:"column:contact_name;not null" json:"contactName"`
	ContactEmail     string  `gorm:"column:contact_email;not null" json:"contactEmail"`
	OrganisationName *string `gorm:"column:organisation_name" json:"organisationName,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (WoodlandOwner) TableName() string {
	return "woodland_owners"
}

// IsOrganisation reports whether the woodland owner record represents an
// organisation rather than an individual
func (w *WoodlandOwner) IsOrganisation() bool {
	return w.OrganisationName != nil && *w.OrganisationName != ""
}

// UserAccount represents a user known to the backend. Agency users carry an
// agency id; woodland-owner applicants carry a woodland owner id.
type UserAccount struct {
	UserAccountID   string      `gorm:"primarykey;column:user_account_id" json:"userAccountId"`
	Email           string      `gorm:"column:email;not null;unique" json:"email"`
	FirstName       *string     `gorm:"column:first_name" json:"firstName,omitempty"`
	LastName        *string     `gorm:"column:last_name" json:"lastName,omitempty"`
	AccountType     AccountType `gorm:"column:account_type;not null" json:"accountType"`
	AgencyID        *string     `gorm:"column:agency_id;index" json:"agencyId,omitempty"`
	WoodlandOwnerID *string     `gorm:"column:woodland_owner_id;index" json:"woodlandOwnerId,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (UserAccount) TableName() string {
	return "user_accounts"
}

// IsFcSuperUser reports whether the account bypasses agency-matching
// permission checks
func (u *UserAccount) IsFcSuperUser() bool {
	return u.AccountType == AccountTypeFcUser
}

// BelongsToAgency reports whether the account is tied to the given agency
func (u *UserAccount) BelongsToAgency(agencyID string) bool {
	return u.AgencyID != nil && *u.AgencyID == agencyID
}
