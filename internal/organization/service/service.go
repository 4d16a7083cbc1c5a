package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"concierge/internal/audit"
	"concierge/internal/credentials"
	notification "concierge/internal/notification/models"
	"concierge/internal/organization/metrics"
	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/requestcontext"
)

var tracer = otel.Tracer("concierge/organization")

type OrganizationStore interface {
	Create(ctx context.Context, org *models.Organization) error
	Update(ctx context.Context, org *models.Organization) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	FindByTaxID(ctx context.Context, taxID string) (*models.Organization, error)
	FindByEmail(ctx context.Context, email string) (*models.Organization, error)
	FindByName(ctx context.Context, name string) (*models.Organization, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Organization, error)
}

type AccountStore interface {
	Create(ctx context.Context, acct *models.AdminAccount) error
	Update(ctx context.Context, acct *models.AdminAccount) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error)
	FindByEmail(ctx context.Context, email string) (*models.AdminAccount, error)
	List(ctx context.Context, filter models.AccountFilter) ([]*models.AdminAccount, error)
}

// OrganizationProvisioner is satisfied by *Provisioner.
type OrganizationProvisioner interface {
	CreateWithAdmin(ctx context.Context, org *models.Organization, admin models.AdminSeed) (*models.Organization, error)
}

// Dispatcher hands a notification to the delivery pipeline. It never fails
// from the caller's point of view.
type Dispatcher interface {
	SendMail(ctx context.Context, opts notification.SendMailOptions)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type CredentialGenerator interface {
	Generate(length int) (string, error)
}

type CredentialHasher interface {
	Hash(plaintext string) (string, error)
}

// Service orchestrates organization provisioning and administration.
type Service struct {
	orgs           OrganizationStore
	provisioner    OrganizationProvisioner
	dispatcher     Dispatcher
	generator      CredentialGenerator
	hasher         CredentialHasher
	passwordLength int
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithGenerator(g CredentialGenerator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

func WithHasher(h CredentialHasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

// WithPasswordLength sets the length of generated temporary passwords.
func WithPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.passwordLength = n
		}
	}
}

// New constructs a Service.
func New(orgs OrganizationStore, provisioner OrganizationProvisioner, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		orgs:           orgs,
		provisioner:    provisioner,
		dispatcher:     dispatcher,
		generator:      credentials.NewGenerator(),
		hasher:         credentials.NewHasher(credentials.DefaultCost),
		passwordLength: credentials.DefaultLength,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns an organization by id, deleted ones included.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org, err := s.orgs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization")
	}
	return org, nil
}

// List returns organizations matching filter, newest first.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.Organization, error) {
	orgs, err := s.orgs.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list organizations")
	}
	return orgs, nil
}

// FindOne looks up a live organization by tax id, or by name when no tax id
// is given.
func (s *Service) FindOne(ctx context.Context, criteria models.FindCriteria) (*models.Organization, error) {
	taxID := strings.TrimSpace(criteria.TaxID)
	name := strings.TrimSpace(criteria.Name)

	var (
		org       *models.Organization
		err       error
		criterion string
	)
	switch {
	case taxID != "":
		org, err = s.orgs.FindByTaxID(ctx, taxID)
		criterion = "tax id " + taxID
	case name != "":
		org, err = s.orgs.FindByName(ctx, name)
		criterion = "name " + name
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "a search criterion (tax_id or name) is required")
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no organization found with %s", criterion))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find organization")
	}
	return org, nil
}

// Update applies the non-nil fields of req to a live organization.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *models.UpdateOrganizationRequest) (*models.Organization, error) {
	org, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkUniqueness(ctx, req.TaxID, req.Email, org.ID); err != nil {
		return nil, err
	}

	if req.Name != nil {
		org.Name = *req.Name
	}
	if req.TaxID != nil {
		org.TaxID = *req.TaxID
	}
	if req.Address != nil {
		org.Address = *req.Address
	}
	if req.Email != nil {
		org.Email = req.Email
	}
	if req.Phone != nil {
		org.Phone = req.Phone
	}
	if req.IsActive != nil {
		org.IsActive = *req.IsActive
	}
	org.UpdatedAt = requestcontext.Now(ctx)

	if err := s.orgs.Update(ctx, org); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "tax id or contact email belongs to another organization")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update organization")
	}

	s.emitAudit(ctx, audit.ActionOrganizationUpdated, org.ID, org.TaxID)
	return org, nil
}

// Remove soft-deletes a live organization.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	org, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}

	org.SoftDelete(requestcontext.Now(ctx))
	if err := s.orgs.Update(ctx, org); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "organization not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove organization")
	}

	s.emitAudit(ctx, audit.ActionOrganizationRemoved, org.ID, org.TaxID)
	if s.metrics != nil {
		s.metrics.IncrementRemoved()
	}
	return nil
}

func (s *Service) loadLive(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if org.IsDeleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "organization not found")
	}
	return org, nil
}

// checkUniqueness rejects a tax id or contact email held by a live
// organization other than self. It reads outside any transaction, so it only
// produces friendly messages; the unique indexes remain the real guard.
func (s *Service) checkUniqueness(ctx context.Context, taxID, email *string, self uuid.UUID) error {
	if taxID != nil && *taxID != "" {
		existing, err := s.orgs.FindByTaxID(ctx, *taxID)
		switch {
		case err == nil && existing.ID != self:
			return dErrors.New(dErrors.CodeConflict, "an organization with this tax id already exists")
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check tax id")
		}
	}
	if email != nil && *email != "" {
		existing, err := s.orgs.FindByEmail(ctx, *email)
		switch {
		case err == nil && existing.ID != self:
			return dErrors.New(dErrors.CodeConflict, "an organization with this contact email already exists")
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check contact email")
		}
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, action audit.Action, orgID uuid.UUID, subject string) {
	publishAudit(ctx, s.logger, s.auditPublisher, action, orgID, subject)
}

func publishAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, action audit.Action, orgID uuid.UUID, subject string) {
	requestID := requestcontext.RequestID(ctx)
	logger.InfoContext(ctx, string(action),
		"organization_id", orgID,
		"request_id", requestID,
		"log_type", "audit",
	)
	if publisher == nil {
		return
	}
	err := publisher.Emit(ctx, audit.Event{
		Action:         action,
		OrganizationID: orgID.String(),
		Subject:        subject,
		RequestID:      requestID,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "action", action, "error", err)
	}
}
