package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks OrganizationStore,AccountStore,OrganizationProvisioner,Dispatcher,AuditPublisher,CredentialGenerator,CredentialHasher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"concierge/internal/audit"
	notification "concierge/internal/notification/models"
	"concierge/internal/organization/metrics"
	"concierge/internal/organization/models"
	"concierge/internal/organization/service/mocks"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	orgs        *mocks.MockOrganizationStore
	provisioner *mocks.MockOrganizationProvisioner
	dispatcher  *mocks.MockDispatcher
	publisher   *mocks.MockAuditPublisher
	generator   *mocks.MockCredentialGenerator
	hasher      *mocks.MockCredentialHasher
	metrics     *metrics.Metrics
	service     *Service
	ctx         context.Context
	now         time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.orgs = mocks.NewMockOrganizationStore(s.ctrl)
	s.provisioner = mocks.NewMockOrganizationProvisioner(s.ctrl)
	s.dispatcher = mocks.NewMockDispatcher(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.generator = mocks.NewMockCredentialGenerator(s.ctrl)
	s.hasher = mocks.NewMockCredentialHasher(s.ctrl)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.service = New(s.orgs, s.provisioner, s.dispatcher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithGenerator(s.generator),
		WithHasher(s.hasher),
	)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), s.now), "req-123")
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) request() *models.CreateOrganizationRequest {
	contact := "Contact@AcmeGardens.test"
	return &models.CreateOrganizationRequest{
		Name:       " Acme Gardens ",
		TaxID:      "12345678000190",
		Address:    models.Address{Street: "Rua das Flores", Number: "123", City: "Cidade Exemplo"},
		Email:      &contact,
		AdminEmail: "Admin@AcmeGardens.test",
	}
}

func (s *ServiceSuite) existing(taxID string) *models.Organization {
	org, err := models.NewOrganization(uuid.New(), "Existing", taxID,
		models.Address{Street: "Rua A", Number: "1", City: "Recife"}, nil, nil, s.now)
	s.Require().NoError(err)
	return org
}

func (s *ServiceSuite) TestProvision() {
	s.Run("success hands the credential only to the result and the welcome mail", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), "12345678000190").Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), "contact@acmegardens.test").Return(nil, sentinel.ErrNotFound)
		s.generator.EXPECT().Generate(12).Return("Tmp-Pass-123", nil)
		s.hasher.EXPECT().Hash("Tmp-Pass-123").Return("$2a$10$digest", nil)
		s.provisioner.EXPECT().
			CreateWithAdmin(gomock.Any(), gomock.Any(), models.AdminSeed{Email: "admin@acmegardens.test", PasswordHash: "$2a$10$digest"}).
			DoAndReturn(func(_ context.Context, org *models.Organization, _ models.AdminSeed) (*models.Organization, error) {
				s.Equal("Acme Gardens", org.Name)
				s.Equal(s.now, org.CreatedAt)
				return org, nil
			})
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.Event) error {
				s.Equal(audit.ActionOrganizationProvisioned, e.Action)
				s.Equal("req-123", e.RequestID)
				return nil
			})
		s.dispatcher.EXPECT().SendMail(gomock.Any(), notification.SendMailOptions{
			To:       "admin@acmegardens.test",
			Subject:  "Welcome to Concierge Control, Acme Gardens!",
			Template: "welcome-email",
			Context: map[string]any{
				"name":       "Acme Gardens",
				"adminEmail": "admin@acmegardens.test",
				"password":   "Tmp-Pass-123",
			},
		})

		result, err := s.service.Provision(s.ctx, s.request())
		s.Require().NoError(err)
		s.Equal("Tmp-Pass-123", result.TemporaryPassword)
		s.Equal("Acme Gardens", result.Organization.Name)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.Provisioned.WithLabelValues(metrics.OutcomeCreated)))
	})

	s.Run("tax id held by another organization is a conflict", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), "12345678000190").Return(s.existing("12345678000190"), nil)

		_, err := s.service.Provision(s.ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(dErrors.MessageOf(err), "tax id")
	})

	s.Run("contact email held by another organization is a conflict", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(s.existing("99999999000199"), nil)

		_, err := s.service.Provision(s.ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(dErrors.MessageOf(err), "contact email")
	})

	s.Run("invalid request never reaches the store", func() {
		req := s.request()
		req.TaxID = "123"

		_, err := s.service.Provision(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("conflict from the transaction propagates", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.generator.EXPECT().Generate(gomock.Any()).Return("pw", nil)
		s.hasher.EXPECT().Hash("pw").Return("digest", nil)
		s.provisioner.EXPECT().CreateWithAdmin(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "admin email is already in use"))

		_, err := s.service.Provision(s.ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("admin email is already in use", dErrors.MessageOf(err))
	})

	s.Run("storage failure is masked as internal", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.generator.EXPECT().Generate(gomock.Any()).Return("pw", nil)
		s.hasher.EXPECT().Hash("pw").Return("digest", nil)
		cause := errors.New(`pq: relation "admin_accounts" does not exist`)
		s.provisioner.EXPECT().CreateWithAdmin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, cause)

		_, err := s.service.Provision(s.ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal("failed to provision organization", dErrors.MessageOf(err))
		s.NotContains(dErrors.MessageOf(err), "admin_accounts")
		s.ErrorIs(err, cause, "cause is kept for logs")
		s.Equal(1.0, promtest.ToFloat64(s.metrics.Provisioned.WithLabelValues(metrics.OutcomeError)))
	})

	s.Run("generator failure is internal", func() {
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.generator.EXPECT().Generate(gomock.Any()).Return("", errors.New("entropy exhausted"))

		_, err := s.service.Provision(s.ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestGet() {
	s.Run("not found", func() {
		s.orgs.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.Get(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("store failure", func() {
		s.orgs.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))
		_, err := s.service.Get(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestFindOne() {
	s.Run("requires a criterion", func() {
		_, err := s.service.FindOne(s.ctx, models.FindCriteria{Name: "  "})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("tax id takes precedence over name", func() {
		org := s.existing("12345678000190")
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), "12345678000190").Return(org, nil)
		got, err := s.service.FindOne(s.ctx, models.FindCriteria{TaxID: "12345678000190", Name: "ignored"})
		s.Require().NoError(err)
		s.Equal(org.ID, got.ID)
	})

	s.Run("not found names the criterion", func() {
		s.orgs.EXPECT().FindByName(gomock.Any(), "Nowhere").Return(nil, sentinel.ErrNotFound)
		_, err := s.service.FindOne(s.ctx, models.FindCriteria{Name: "Nowhere"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Contains(dErrors.MessageOf(err), "name Nowhere")
	})
}

func (s *ServiceSuite) TestUpdate() {
	s.Run("applies changes", func() {
		org := s.existing("12345678000190")
		name := "Acme Gardens II"
		active := false
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, o *models.Organization) error {
			s.Equal(name, o.Name)
			s.False(o.IsActive)
			return nil
		})
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		got, err := s.service.Update(s.ctx, org.ID, &models.UpdateOrganizationRequest{Name: &name, IsActive: &active})
		s.Require().NoError(err)
		s.Equal(name, got.Name)
	})

	s.Run("tax id of another organization conflicts", func() {
		org := s.existing("12345678000190")
		taxID := "99999999000199"
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), taxID).Return(s.existing(taxID), nil)

		_, err := s.service.Update(s.ctx, org.ID, &models.UpdateOrganizationRequest{TaxID: &taxID})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("own tax id is not a conflict", func() {
		org := s.existing("12345678000190")
		taxID := org.TaxID
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().FindByTaxID(gomock.Any(), taxID).Return(org, nil)
		s.orgs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Update(s.ctx, org.ID, &models.UpdateOrganizationRequest{TaxID: &taxID})
		s.NoError(err)
	})

	s.Run("deleted organization is not found", func() {
		org := s.existing("12345678000190")
		org.SoftDelete(s.now)
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)

		_, err := s.service.Update(s.ctx, org.ID, &models.UpdateOrganizationRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("lost race at the store is a conflict", func() {
		org := s.existing("12345678000190")
		email := "taken@acme.test"
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().FindByEmail(gomock.Any(), email).Return(nil, sentinel.ErrNotFound)
		s.orgs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyUsed)

		_, err := s.service.Update(s.ctx, org.ID, &models.UpdateOrganizationRequest{Email: &email})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestRemove() {
	s.Run("soft deletes", func() {
		org := s.existing("12345678000190")
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, o *models.Organization) error {
			s.True(o.IsDeleted)
			s.False(o.IsActive)
			s.Equal(s.now, o.UpdatedAt)
			return nil
		})
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		s.Require().NoError(s.service.Remove(s.ctx, org.ID))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.OrganizationsRemoved))
	})

	s.Run("unknown id", func() {
		s.orgs.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		err := s.service.Remove(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("audit failure does not fail the removal", func() {
		org := s.existing("12345678000190")
		s.orgs.EXPECT().FindByID(gomock.Any(), org.ID).Return(org, nil)
		s.orgs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

		s.NoError(s.service.Remove(s.ctx, org.ID))
	})
}
