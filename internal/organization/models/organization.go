package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "concierge/pkg/domain-errors"
)

// Organization is the aggregate root for a tenant (e.g. a condominium).
//
// Invariants:
//   - Name is non-empty and at most 128 characters
//   - TaxID is a 14-digit numeric string, unique among non-deleted organizations
//   - Email, when present, is unique across organizations
//   - A deleted organization is never active
//   - CreatedAt is immutable after construction
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id"`
	Address   Address   `json:"address"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address holds the postal address of an organization.
type Address struct {
	Street       string `json:"street" validate:"required,max=255"`
	Number       string `json:"number" validate:"required,max=32"`
	Neighborhood string `json:"neighborhood" validate:"max=128"`
	City         string `json:"city" validate:"required,max=128"`
	State        string `json:"state" validate:"max=64"`
	ZipCode      string `json:"zip_code" validate:"max=16"`
}

// NewOrganization constructs an active organization.
func NewOrganization(orgID uuid.UUID, name, taxID string, address Address, email, phone *string, now time.Time) (*Organization, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name must be 128 characters or less")
	}
	if !IsTaxID(taxID) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tax id must contain exactly 14 digits")
	}
	return &Organization{
		ID:        orgID,
		Name:      name,
		TaxID:     taxID,
		Address:   address,
		Email:     email,
		Phone:     phone,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ContactEmail returns the contact email or "" when none is set.
func (o *Organization) ContactEmail() string {
	if o.Email == nil {
		return ""
	}
	return *o.Email
}

// SoftDelete marks the organization as removed. Removed organizations are
// retained for history but hidden from uniqueness checks and lookups.
func (o *Organization) SoftDelete(now time.Time) {
	o.IsDeleted = true
	o.IsActive = false
	o.UpdatedAt = now
}

// IsTaxID reports whether s is a 14-digit numeric string.
func IsTaxID(s string) bool {
	if len(s) != 14 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
