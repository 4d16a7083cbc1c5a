package handler

import (
	"time"

	"concierge/internal/organization/models"
)

// OrganizationResponse is the wire form of an organization.
type OrganizationResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	TaxID     string          `json:"tax_id"`
	Address   AddressResponse `json:"address"`
	Email     *string         `json:"email"`
	Phone     *string         `json:"phone"`
	IsActive  bool            `json:"is_active"`
	IsDeleted bool            `json:"is_deleted"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type AddressResponse struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

// ProvisionResponse is returned once by POST /admin/organizations. The
// password is not retrievable afterwards.
type ProvisionResponse struct {
	Organization         OrganizationResponse `json:"organization"`
	AdminInitialPassword string               `json:"admin_initial_password"`
}

func FromOrganization(o *models.Organization) OrganizationResponse {
	return OrganizationResponse{
		ID:    o.ID.String(),
		Name:  o.Name,
		TaxID: o.TaxID,
		Address: AddressResponse{
			Street:       o.Address.Street,
			Number:       o.Address.Number,
			Neighborhood: o.Address.Neighborhood,
			City:         o.Address.City,
			State:        o.Address.State,
			ZipCode:      o.Address.ZipCode,
		},
		Email:     o.Email,
		Phone:     o.Phone,
		IsActive:  o.IsActive,
		IsDeleted: o.IsDeleted,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func FromOrganizations(orgs []*models.Organization) []OrganizationResponse {
	out := make([]OrganizationResponse, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, FromOrganization(o))
	}
	return out
}

// AccountResponse is the wire form of an account. It never carries the
// password hash.
type AccountResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organization_id"`
	IsActive       bool      `json:"is_active"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func FromAccount(a *models.AdminAccount) AccountResponse {
	return AccountResponse{
		ID:             a.ID.String(),
		Email:          a.Email,
		OrganizationID: a.OrganizationID.String(),
		IsActive:       a.IsActive,
		IsDeleted:      a.IsDeleted,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func FromAccounts(accts []*models.AdminAccount) []AccountResponse {
	out := make([]AccountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, FromAccount(a))
	}
	return out
}
