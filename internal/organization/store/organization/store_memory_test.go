package organization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concierge/internal/organization/models"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/platform/tx"
)

type OrganizationStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *OrganizationStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestOrganizationStoreSuite(t *testing.T) {
	suite.Run(t, new(OrganizationStoreSuite))
}

func (s *OrganizationStoreSuite) newOrg(taxID string, email *string) *models.Organization {
	org, err := models.NewOrganization(uuid.New(), "Org "+taxID, taxID, models.Address{Street: "Rua A", Number: "1", City: "X"}, email, nil, time.Now())
	s.Require().NoError(err)
	return org
}

func ptr(s string) *string { return &s }

// TestCreationAndLookups verifies the store correctly creates and retrieves organizations.
func (s *OrganizationStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds by id, tax id and email", func() {
		org := s.newOrg("11111111000111", ptr("contact@one.test"))
		s.Require().NoError(s.store.Create(s.ctx, org))

		found, err := s.store.FindByID(s.ctx, org.ID)
		s.Require().NoError(err)
		s.Equal(org.Name, found.Name)

		found, err = s.store.FindByTaxID(s.ctx, "11111111000111")
		s.Require().NoError(err)
		s.Equal(org.ID, found.ID)

		found, err = s.store.FindByEmail(s.ctx, "CONTACT@one.test")
		s.Require().NoError(err)
		s.Equal(org.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown values", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByTaxID(s.ctx, "99999999000199")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned values are copies", func() {
		org := s.newOrg("22222222000122", nil)
		s.Require().NoError(s.store.Create(s.ctx, org))

		found, err := s.store.FindByID(s.ctx, org.ID)
		s.Require().NoError(err)
		found.Name = "mutated"

		again, err := s.store.FindByID(s.ctx, org.ID)
		s.Require().NoError(err)
		s.NotEqual("mutated", again.Name)
	})
}

// TestUniqueness verifies the store-level backstop for tax id and contact email.
func (s *OrganizationStoreSuite) TestUniqueness() {
	s.Run("rejects duplicate tax id", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newOrg("33333333000133", nil)))
		err := s.store.Create(s.ctx, s.newOrg("33333333000133", nil))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("rejects duplicate contact email case-insensitively", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newOrg("44444444000144", ptr("dup@acme.test"))))
		err := s.store.Create(s.ctx, s.newOrg("55555555000155", ptr("DUP@acme.test")))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("soft-deleted organization frees its tax id", func() {
		org := s.newOrg("66666666000166", nil)
		s.Require().NoError(s.store.Create(s.ctx, org))
		org.SoftDelete(time.Now())
		s.Require().NoError(s.store.Update(s.ctx, org))

		_, err := s.store.FindByTaxID(s.ctx, "66666666000166")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.NoError(s.store.Create(s.ctx, s.newOrg("66666666000166", nil)))
	})
}

// TestList verifies filtering by active and deleted flags.
func (s *OrganizationStoreSuite) TestList() {
	active := s.newOrg("77777777000177", nil)
	inactive := s.newOrg("88888888000188", nil)
	inactive.IsActive = false
	removed := s.newOrg("99999999000199", nil)
	removed.SoftDelete(time.Now())
	for _, o := range []*models.Organization{active, inactive, removed} {
		s.Require().NoError(s.store.Create(s.ctx, o))
	}

	all, err := s.store.List(s.ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Len(all, 2, "default listing hides deleted organizations")

	yes, no := true, false
	onlyActive, err := s.store.List(s.ctx, models.ListFilter{IsActive: &yes})
	s.Require().NoError(err)
	s.Require().Len(onlyActive, 1)
	s.Equal(active.ID, onlyActive[0].ID)

	onlyInactive, err := s.store.List(s.ctx, models.ListFilter{IsActive: &no})
	s.Require().NoError(err)
	s.Require().Len(onlyInactive, 1)
	s.Equal(inactive.ID, onlyInactive[0].ID)

	deleted, err := s.store.List(s.ctx, models.ListFilter{IsDeleted: &yes})
	s.Require().NoError(err)
	s.Require().Len(deleted, 1)
	s.Equal(removed.ID, deleted[0].ID)
}

// TestJournalRollback verifies writes inside a failed unit of work are undone.
func (s *OrganizationStoreSuite) TestJournalRollback() {
	runner := tx.NewInMemory()
	org := s.newOrg("12121212000112", nil)
	boom := errors.New("boom")

	err := runner.RunInTx(s.ctx, func(txCtx context.Context) error {
		s.Require().NoError(s.store.Create(txCtx, org))
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindByID(s.ctx, org.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *OrganizationStoreSuite) TestUpdateUnknown() {
	err := s.store.Update(s.ctx, s.newOrg("13131313000113", nil))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
