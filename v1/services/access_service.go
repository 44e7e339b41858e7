package services

import (
	"context"
	"errors"

	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"gorm.io/gorm"
)

// AccessService resolves which agencies and woodland owners a user may act
// for and validates requested operations against the permission rule:
// FC super users bypass agency matching, everyone else must belong to the
// authority's agency.
type AccessService struct {
	db *gorm.DB
}

// NewAccessService creates a new access service
func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// GetUser looks up a user account by id
func (s *AccessService) GetUser(ctx context.Context, userID string) (*models.UserAccount, error) {
	if userID == "" {
		return nil, models.NewInvalidInputError("user id is required")
	}
	var user models.UserAccount
	err := s.db.WithContext(ctx).First(&user, "user_account_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("user account not found")
		}
		return nil, models.NewInternalError("failed to look up user account", err)
	}
	return &user, nil
}

// EnsureCanManageAuthority validates the permission rule for any mutating or
// read operation against an agent authority
func (s *AccessService) EnsureCanManageAuthority(user *models.UserAccount, authority *models.AgentAuthority) error {
	if user.IsFcSuperUser() {
		return nil
	}
	if user.BelongsToAgency(authority.AgencyID) {
		return nil
	}
	return models.NewPermissionDeniedError("user is not permitted to act for this authority's agency")
}

// EnsureCanActForAgency validates the permission rule against an agency id
// directly, for operations that are scoped to an agency rather than a single
// authority
func (s *AccessService) EnsureCanActForAgency(user *models.UserAccount, agencyID string) error {
	if user.IsFcSuperUser() {
		return nil
	}
	if user.BelongsToAgency(agencyID) {
		return nil
	}
	return models.NewPermissionDeniedError("user is not permitted to act for this agency")
}

// GetAgencyManagingWoodlandOwner finds the agent authority, if any, whose
// agency currently manages the given woodland owner: the one authority for
// that owner whose status is not deactivated. Returns nil when no agency
// manages the owner.
func (s *AccessService) GetAgencyManagingWoodlandOwner(ctx context.Context, woodlandOwnerID string) (*models.AgentAuthority, error) {
	if woodlandOwnerID == "" {
		return nil, models.NewInvalidInputError("woodland owner id is required")
	}
	var authority models.AgentAuthority
	err := s.db.WithContext(ctx).
		Where("woodland_owner_id = ? AND status <> ?", woodlandOwnerID, models.AgentAuthorityStatusDeactivated).
		Order("created_at ASC").
		First(&authority).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError("failed to look up managing agency", err)
	}
	return &authority, nil
}

// GetUsersForWoodlandOwner returns the accounts that act for a woodland
// owner. When an agency actively manages the owner, the agency's agent users
// substitute for direct woodland-owner accounts.
func (s *AccessService) GetUsersForWoodlandOwner(ctx context.Context, woodlandOwnerID string) ([]models.UserAccount, error) {
	authority, err := s.GetAgencyManagingWoodlandOwner(ctx, woodlandOwnerID)
	if err != nil {
		return nil, err
	}

	var users []models.UserAccount
	query := s.db.WithContext(ctx)
	if authority != nil {
		query = query.Where("agency_id = ?", authority.AgencyID)
	} else {
		query = query.Where("woodland_owner_id = ?", woodlandOwnerID)
	}
	if err := query.Order("email ASC").Find(&users).Error; err != nil {
		return nil, models.NewInternalError("failed to list user accounts", err)
	}
	return users, nil
}
