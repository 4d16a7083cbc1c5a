package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/platform/tx"
)

// Provisioner creates an organization and its first admin account as one
// unit of work. Either both rows commit or neither does.
type Provisioner struct {
	tx       tx.Runner
	orgs     OrganizationStore
	accounts AccountStore
}

func NewProvisioner(runner tx.Runner, orgs OrganizationStore, accounts AccountStore) *Provisioner {
	return &Provisioner{tx: runner, orgs: orgs, accounts: accounts}
}

// CreateWithAdmin persists org and an admin account seeded from admin.
//
// Uniqueness races lost at the store surface as sentinel.ErrAlreadyUsed and
// are returned as CodeConflict. Any other error is returned unchanged for the
// caller to classify.
func (p *Provisioner) CreateWithAdmin(ctx context.Context, org *models.Organization, admin models.AdminSeed) (*models.Organization, error) {
	err := p.tx.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := p.accounts.FindByEmail(txCtx, admin.Email)
		if err == nil {
			return dErrors.New(dErrors.CodeConflict, "admin email is already in use")
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		if err := p.orgs.Create(txCtx, org); err != nil {
			return err
		}

		acct, err := models.NewAdminAccount(uuid.New(), org.ID, admin, org.CreatedAt)
		if err != nil {
			return err
		}
		return p.accounts.Create(txCtx, acct)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "organization or admin email already exists")
		}
		return nil, err
	}
	return org, nil
}
