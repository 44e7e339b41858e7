package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims represents the JWT claims issued by the identity provider.
// The subject claim carries the user account id.
type UserClaims struct {
	Email       string `json:"email"`
	FirstName   string `json:"given_name"`
	LastName    string `json:"family_name"`
	AccountType string `json:"account_type"`
	jwt.RegisteredClaims
}

// AuthenticatedUser represents the authenticated caller in request context
type AuthenticatedUser struct {
	UserAccountID string    `json:"userAccountId"`
	Email         string    `json:"email"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	AccountType   string    `json:"accountType"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// NewAuthenticatedUser builds an AuthenticatedUser from validated claims
func NewAuthenticatedUser(claims *UserClaims) *AuthenticatedUser {
	user := &AuthenticatedUser{
		UserAccountID: claims.Subject,
		Email:         claims.Email,
		FirstName:     claims.FirstName,
		LastName:      claims.LastName,
		AccountType:   claims.AccountType,
	}
	if claims.IssuedAt != nil {
		user.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		user.ExpiresAt = claims.ExpiresAt.Time
	}
	return user
}

// IsTokenExpired checks whether the token the user presented has expired
func (u *AuthenticatedUser) IsTokenExpired() bool {
	if u.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(u.ExpiresAt)
}

// ActorType classifies the actor of an audit event
type ActorType string

const (
	ActorTypeUser    ActorType = "USER"
	ActorTypeSystem  ActorType = "SYSTEM"
	ActorTypeService ActorType = "SERVICE"
)
