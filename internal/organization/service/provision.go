package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"concierge/internal/audit"
	notification "concierge/internal/notification/models"
	"concierge/internal/notification/templates"
	"concierge/internal/organization/metrics"
	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/requestcontext"
)

// welcomeSubject is prefixed to the organization name in the welcome mail.
const welcomeSubject = "Welcome to Concierge Control, "

// Provision creates an organization with its first admin account and
// returns the admin's temporary password. The password is returned exactly
// once and is otherwise only placed in the welcome notification.
//
// A notification failure never fails provisioning: by the time the welcome
// mail is handed off, the organization and account are committed.
func (s *Service) Provision(ctx context.Context, req *models.CreateOrganizationRequest) (*models.ProvisionResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "organization.provision")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		s.observeProvision(metrics.OutcomeInvalid, start)
		return nil, err
	}
	span.SetAttributes(attribute.String("organization.tax_id", req.TaxID))

	log := s.logger.With("tax_id", req.TaxID, "request_id", requestcontext.RequestID(ctx))

	if err := s.checkUniqueness(ctx, &req.TaxID, req.Email, uuid.Nil); err != nil {
		s.observeProvision(outcomeOf(err), start)
		return nil, err
	}

	password, err := s.generator.Generate(s.passwordLength)
	if err != nil {
		s.observeProvision(metrics.OutcomeError, start)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision organization")
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.observeProvision(metrics.OutcomeError, start)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision organization")
	}

	org, err := models.NewOrganization(uuid.New(), req.Name, req.TaxID, req.Address, req.Email, req.Phone, requestcontext.Now(ctx))
	if err != nil {
		s.observeProvision(metrics.OutcomeInvalid, start)
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}

	created, err := s.provisioner.CreateWithAdmin(ctx, org, models.AdminSeed{Email: req.AdminEmail, PasswordHash: digest})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			log.InfoContext(ctx, "provisioning rejected", "reason", dErrors.MessageOf(err))
			s.observeProvision(metrics.OutcomeConflict, start)
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning transaction failed")
		log.ErrorContext(ctx, "could not create organization or admin account", "error", err)
		s.observeProvision(metrics.OutcomeError, start)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision organization")
	}

	log = log.With("organization_id", created.ID)
	log.InfoContext(ctx, "organization provisioned")
	s.emitAudit(ctx, audit.ActionOrganizationProvisioned, created.ID, req.AdminEmail)

	s.dispatcher.SendMail(ctx, notification.SendMailOptions{
		To:       req.AdminEmail,
		Subject:  welcomeSubject + created.Name + "!",
		Template: templates.WelcomeEmail,
		Context: map[string]any{
			"name":       created.Name,
			"adminEmail": req.AdminEmail,
			"password":   password,
		},
	})

	s.observeProvision(metrics.OutcomeCreated, start)
	return &models.ProvisionResult{Organization: created, TemporaryPassword: password}, nil
}

func outcomeOf(err error) string {
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeError
}

func (s *Service) observeProvision(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveProvision(outcome, start)
	}
}
