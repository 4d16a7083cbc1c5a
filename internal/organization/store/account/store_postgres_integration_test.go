//go:build integration

package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concierge/internal/organization/models"
	"concierge/internal/organization/store/account"
	"concierge/internal/organization/store/organization"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	orgs     *organization.PostgresStore
	store    *account.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.orgs = organization.NewPostgres(s.postgres.DB)
	s.store = account.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "admin_accounts", "organizations")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) createOrg(taxID string) uuid.UUID {
	org, err := models.NewOrganization(uuid.New(), "Org "+taxID, taxID,
		models.Address{Street: "Rua A", Number: "1", City: "Recife"}, nil, nil, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.orgs.Create(context.Background(), org))
	return org.ID
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	orgID := s.createOrg("11111111000111")

	acct, err := models.NewAdminAccount(uuid.New(), orgID, models.AdminSeed{Email: "admin@acme.test", PasswordHash: "$2a$10$x"}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, acct))

	found, err := s.store.FindByEmail(ctx, "ADMIN@acme.test")
	s.Require().NoError(err)
	s.Equal(orgID, found.OrganizationID)
	s.Equal("$2a$10$x", found.PasswordHash)

	listed, err := s.store.ListByOrganization(ctx, orgID)
	s.Require().NoError(err)
	s.Len(listed, 1)
}

func (s *PostgresStoreSuite) TestEmailUniqueAcrossOrganizations() {
	ctx := context.Background()
	first := s.createOrg("22222222000122")
	second := s.createOrg("33333333000133")

	a, err := models.NewAdminAccount(uuid.New(), first, models.AdminSeed{Email: "shared@acme.test", PasswordHash: "h"}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, a))

	b, err := models.NewAdminAccount(uuid.New(), second, models.AdminSeed{Email: "Shared@Acme.Test", PasswordHash: "h"}, time.Now())
	s.Require().NoError(err)
	s.ErrorIs(s.store.Create(ctx, b), sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestUpdateAndSoftDelete() {
	ctx := context.Background()
	orgID := s.createOrg("44444444000144")

	taken, err := models.NewAdminAccount(uuid.New(), orgID, models.AdminSeed{Email: "taken@acme.test", PasswordHash: "h"}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, taken))
	acct, err := models.NewAdminAccount(uuid.New(), orgID, models.AdminSeed{Email: "staff@acme.test", PasswordHash: "h"}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, acct))

	clash := *acct
	clash.Email = "TAKEN@acme.test"
	s.ErrorIs(s.store.Update(ctx, &clash), sentinel.ErrAlreadyUsed)

	acct.SoftDelete(time.Now())
	s.Require().NoError(s.store.Update(ctx, acct))

	found, err := s.store.FindByID(ctx, acct.ID)
	s.Require().NoError(err)
	s.True(found.IsDeleted)

	live, err := s.store.List(ctx, models.AccountFilter{OrganizationID: &orgID})
	s.Require().NoError(err)
	s.Require().Len(live, 1)
	s.Equal(taken.ID, live[0].ID)
}
