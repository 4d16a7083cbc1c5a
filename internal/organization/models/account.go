package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "concierge/pkg/domain-errors"
)

// AdminAccount is the first user of an organization.
//
// Invariants:
//   - Email is unique across all accounts, not just within the organization
//   - OrganizationID is never nil; accounts are only created with their organization
//   - PasswordHash is a bcrypt digest, never the plaintext
type AdminAccount struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsDeleted      bool      `json:"is_deleted"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AdminSeed is what the provisioner needs to create the first admin account.
type AdminSeed struct {
	Email        string
	PasswordHash string
}

// NewAdminAccount constructs an active account bound to orgID.
func NewAdminAccount(accountID, orgID uuid.UUID, seed AdminSeed, now time.Time) (*AdminAccount, error) {
	if orgID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "admin account requires an organization")
	}
	if seed.Email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "admin email cannot be empty")
	}
	if seed.PasswordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "admin password hash cannot be empty")
	}
	return &AdminAccount{
		ID:             accountID,
		Email:          seed.Email,
		PasswordHash:   seed.PasswordHash,
		IsActive:       true,
		OrganizationID: orgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SoftDelete deactivates the account and hides it from listings. The row is
// kept so the email stays reserved.
func (a *AdminAccount) SoftDelete(now time.Time) {
	a.IsDeleted = true
	a.IsActive = false
	a.UpdatedAt = now
}

// AccountFilter narrows account listings. A nil IsDeleted lists live accounts.
type AccountFilter struct {
	OrganizationID *uuid.UUID
	IsActive       *bool
	IsDeleted      *bool
}
