package account

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"concierge/internal/organization/models"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/platform/tx"
)

// InMemory is a thread-safe admin account store. Emails are unique
// case-insensitively across every row, deleted ones included.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.AdminAccount
	guard    tx.Guard
	failNext error
}

type Option func(*InMemory)

// WithGuard makes reads wait for uncommitted units of work on the same
// runner, so callers outside a transaction never see its writes.
func WithGuard(g tx.Guard) Option {
	return func(s *InMemory) {
		s.guard = g
	}
}

func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		accounts: make(map[uuid.UUID]*models.AdminAccount),
		guard:    tx.NoGuard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNextCreate makes the next Create return err. It simulates a storage
// failure between the organization insert and the account insert.
func (s *InMemory) FailNextCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *InMemory) Create(ctx context.Context, acct *models.AdminAccount) error {
	defer s.guard.Write(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if _, exists := s.accounts[acct.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if s.emailTakenLocked(acct.Email, acct.ID) {
		return sentinel.ErrAlreadyUsed
	}
	c := *acct
	s.accounts[acct.ID] = &c

	if j, ok := tx.JournalFrom(ctx); ok {
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.accounts, acct.ID)
		})
	}
	return nil
}

func (s *InMemory) Update(ctx context.Context, acct *models.AdminAccount) error {
	defer s.guard.Write(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.accounts[acct.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if s.emailTakenLocked(acct.Email, acct.ID) {
		return sentinel.ErrAlreadyUsed
	}
	c := *acct
	s.accounts[acct.ID] = &c

	if j, ok := tx.JournalFrom(ctx); ok {
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.accounts[prev.ID] = prev
		})
	}
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *acct
	return &c, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if strings.EqualFold(acct.Email, email) {
			c := *acct
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// List returns matching accounts oldest first.
func (s *InMemory) List(ctx context.Context, filter models.AccountFilter) ([]*models.AdminAccount, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	deleted := filter.IsDeleted != nil && *filter.IsDeleted
	var out []*models.AdminAccount
	for _, acct := range s.accounts {
		if acct.IsDeleted != deleted {
			continue
		}
		if filter.OrganizationID != nil && acct.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.IsActive != nil && acct.IsActive != *filter.IsActive {
			continue
		}
		c := *acct
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByOrganization returns the live accounts of orgID.
func (s *InMemory) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.AdminAccount, error) {
	return s.List(ctx, models.AccountFilter{OrganizationID: &orgID})
}

func (s *InMemory) emailTakenLocked(email string, self uuid.UUID) bool {
	for id, acct := range s.accounts {
		if id != self && strings.EqualFold(acct.Email, email) {
			return true
		}
	}
	return false
}
