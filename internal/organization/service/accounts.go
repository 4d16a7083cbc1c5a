package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"concierge/internal/audit"
	"concierge/internal/credentials"
	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/requestcontext"
)

// AccountService manages the accounts of existing organizations after
// provisioning has created the first one.
type AccountService struct {
	orgs           OrganizationStore
	accounts       AccountStore
	hasher         CredentialHasher
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type AccountOption func(s *AccountService)

func WithAccountLogger(logger *slog.Logger) AccountOption {
	return func(s *AccountService) {
		s.logger = logger
	}
}

func WithAccountAuditPublisher(publisher AuditPublisher) AccountOption {
	return func(s *AccountService) {
		s.auditPublisher = publisher
	}
}

func WithAccountHasher(h CredentialHasher) AccountOption {
	return func(s *AccountService) {
		s.hasher = h
	}
}

func NewAccountService(orgs OrganizationStore, accounts AccountStore, opts ...AccountOption) *AccountService {
	s := &AccountService{
		orgs:     orgs,
		accounts: accounts,
		hasher:   credentials.NewHasher(credentials.DefaultCost),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount adds an account with a caller-chosen password to a live
// organization.
func (s *AccountService) CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.AdminAccount, error) {
	ctx, span := tracer.Start(ctx, "organization.account.create")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "organization_id must be a valid UUID")
	}

	org, err := s.orgs.FindByID(ctx, orgID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization")
	case org.IsDeleted:
		return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
	}

	if err := s.checkEmail(ctx, req.Email, uuid.Nil); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	acct, err := models.NewAdminAccount(uuid.New(), org.ID, models.AdminSeed{Email: req.Email, PasswordHash: hash}, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, acct); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "an account with this email already exists")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	publishAudit(ctx, s.logger, s.auditPublisher, audit.ActionAccountCreated, acct.OrganizationID, acct.ID.String())
	return acct, nil
}

// GetAccount returns an account by id, removed ones included.
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error) {
	acct, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return acct, nil
}

// ListAccounts returns accounts matching filter, oldest first.
func (s *AccountService) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.AdminAccount, error) {
	accts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
	}
	return accts, nil
}

// UpdateAccount applies the non-nil fields of req to a live account. A new
// password is hashed before it is stored.
func (s *AccountService) UpdateAccount(ctx context.Context, id uuid.UUID, req *models.UpdateAccountRequest) (*models.AdminAccount, error) {
	ctx, span := tracer.Start(ctx, "organization.account.update")
	defer span.End()

	acct, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Email != nil && !strings.EqualFold(*req.Email, acct.Email) {
		if err := s.checkEmail(ctx, *req.Email, acct.ID); err != nil {
			return nil, err
		}
		acct.Email = *req.Email
	}
	if req.Password != nil {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
		}
		acct.PasswordHash = hash
	}
	if req.IsActive != nil {
		acct.IsActive = *req.IsActive
	}
	acct.UpdatedAt = requestcontext.Now(ctx)

	if err := s.accounts.Update(ctx, acct); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "an account with this email already exists")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}

	publishAudit(ctx, s.logger, s.auditPublisher, audit.ActionAccountUpdated, acct.OrganizationID, acct.ID.String())
	return acct, nil
}

// RemoveAccount soft-deletes a live account. Its email stays reserved.
func (s *AccountService) RemoveAccount(ctx context.Context, id uuid.UUID) error {
	acct, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}

	acct.SoftDelete(requestcontext.Now(ctx))
	if err := s.accounts.Update(ctx, acct); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove account")
	}

	publishAudit(ctx, s.logger, s.auditPublisher, audit.ActionAccountRemoved, acct.OrganizationID, acct.ID.String())
	return nil
}

func (s *AccountService) loadLive(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error) {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.IsDeleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return acct, nil
}

// checkEmail rejects an email held by any account other than self. Removed
// accounts keep their email, matching the unique index.
func (s *AccountService) checkEmail(ctx context.Context, email string, self uuid.UUID) error {
	existing, err := s.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != self:
		return dErrors.New(dErrors.CodeConflict, "an account with this email already exists")
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check email")
	}
	return nil
}
