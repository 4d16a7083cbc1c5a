package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/email"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError reports the first failing field by its JSON name.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	f := fields[0]
	// namespace is "<Struct>.<json path>"; callers only know the path
	name := f.Namespace()
	if _, path, ok := strings.Cut(name, "."); ok {
		name = path
	}
	var msg string
	switch f.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", name)
	case "email":
		msg = fmt.Sprintf("%s must be a valid email address", name)
	case "len":
		msg = fmt.Sprintf("%s must be exactly %s characters", name, f.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", name, f.Param())
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", name, f.Param())
	case "numeric":
		msg = fmt.Sprintf("%s must contain only digits", name)
	case "uuid":
		msg = fmt.Sprintf("%s must be a valid UUID", name)
	default:
		msg = fmt.Sprintf("%s is invalid", name)
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, msg)
}

// CreateOrganizationRequest provisions an organization with its first admin.
type CreateOrganizationRequest struct {
	Name       string  `json:"name" validate:"required,max=128"`
	TaxID      string  `json:"tax_id" validate:"required,len=14,numeric"`
	Address    Address `json:"address"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	AdminEmail string  `json:"admin_email" validate:"required,email"`
}

// Normalize trims whitespace and lowercases email addresses.
func (r *CreateOrganizationRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.TaxID = strings.TrimSpace(r.TaxID)
	r.AdminEmail = email.Normalize(r.AdminEmail)
	r.Email = normalizeOptionalEmail(r.Email)
	r.Phone = trimOptional(r.Phone)
	r.Address = r.Address.normalized()
}

// Validate checks field-level constraints and returns a CodeValidation error
// naming the first offending field.
func (r *CreateOrganizationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// UpdateOrganizationRequest carries optional field changes.
type UpdateOrganizationRequest struct {
	Name     *string  `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	TaxID    *string  `json:"tax_id,omitempty" validate:"omitempty,len=14,numeric"`
	Address  *Address `json:"address,omitempty"`
	Email    *string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone    *string  `json:"phone,omitempty" validate:"omitempty,max=32"`
	IsActive *bool    `json:"is_active,omitempty"`
}

// Normalize trims whitespace and lowercases email addresses.
func (r *UpdateOrganizationRequest) Normalize() {
	r.Name = trimOptional(r.Name)
	r.TaxID = trimOptional(r.TaxID)
	r.Email = normalizeOptionalEmail(r.Email)
	r.Phone = trimOptional(r.Phone)
	if r.Address != nil {
		a := r.Address.normalized()
		r.Address = &a
	}
}

// Validate checks field-level constraints.
func (r *UpdateOrganizationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// CreateAccountRequest registers an additional account in an existing
// organization. Password is the caller's chosen plaintext and is hashed
// before it reaches a store.
type CreateAccountRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=6,max=72"`
	OrganizationID string `json:"organization_id" validate:"required,uuid"`
}

// Normalize lowercases the email. The password is taken verbatim.
func (r *CreateAccountRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
	r.OrganizationID = strings.TrimSpace(r.OrganizationID)
}

func (r *CreateAccountRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// UpdateAccountRequest carries optional account changes. A non-nil Password
// replaces the stored hash.
type UpdateAccountRequest struct {
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=6,max=72"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (r *UpdateAccountRequest) Normalize() {
	r.Email = normalizeOptionalEmail(r.Email)
}

func (r *UpdateAccountRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// ListFilter narrows List results. Nil fields do not filter.
// The zero filter lists non-deleted organizations.
type ListFilter struct {
	IsActive  *bool
	IsDeleted *bool
}

// FindCriteria looks up a single organization by tax id or name.
type FindCriteria struct {
	TaxID string
	Name  string
}

// ProvisionResult is returned once from provisioning. TemporaryPassword is the
// only copy of the plaintext credential; callers must not persist it.
type ProvisionResult struct {
	Organization      *Organization
	TemporaryPassword string
}

func (a Address) normalized() Address {
	return Address{
		Street:       strings.TrimSpace(a.Street),
		Number:       strings.TrimSpace(a.Number),
		Neighborhood: strings.TrimSpace(a.Neighborhood),
		City:         strings.TrimSpace(a.City),
		State:        strings.TrimSpace(a.State),
		ZipCode:      strings.TrimSpace(a.ZipCode),
	}
}

func normalizeOptionalEmail(s *string) *string {
	if s == nil {
		return nil
	}
	v := email.Normalize(*s)
	if v == "" {
		return nil
	}
	return &v
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
