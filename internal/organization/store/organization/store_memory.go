package organization

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

// InMemory is a thread-safe organization store for tests and local runs.
// Uniqueness mirrors the Postgres partial indexes: tax id among non-deleted
// rows, contact email across all rows (case-insensitive).
type InMemory struct {
	mu    sync.RWMutex
	orgs  map[uuid.UUID]*models.Organization
	guard tx.Guard
}

type Option func(*InMemory)

// WithGuard shares the lock of the runner the store takes part in, so rows
// written by an unfinished unit of work stay invisible to other callers.
func WithGuard(g tx.Guard) Option {
	return func(s *InMemory) {
		s.guard = g
	}
}

func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{orgs: make(map[uuid.UUID]*models.Organization), guard: tx.NoGuard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, org *models.Organization) error {
	defer s.guard.Write(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgs[org.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if err := s.checkUniqueLocked(org); err != nil {
		return err
	}
	s.orgs[org.ID] = clone(org)

	if j, ok := tx.JournalFrom(ctx); ok {
		id := org.ID
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.orgs, id)
		})
	}
	return nil
}

func (s *InMemory) Update(ctx context.Context, org *models.Organization) error {
	defer s.guard.Write(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orgs[org.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkUniqueLocked(org); err != nil {
		return err
	}
	s.orgs[org.ID] = clone(org)

	if j, ok := tx.JournalFrom(ctx); ok {
		j.Record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.orgs[prev.ID] = prev
		})
	}
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(org), nil
}

func (s *InMemory) FindByTaxID(ctx context.Context, taxID string) (*models.Organization, error) {
	return s.findFirst(ctx, func(o *models.Organization) bool {
		return !o.IsDeleted && o.TaxID == taxID
	})
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*models.Organization, error) {
	return s.findFirst(ctx, func(o *models.Organization) bool {
		return !o.IsDeleted && strings.EqualFold(o.ContactEmail(), email)
	})
}

func (s *InMemory) FindByName(ctx context.Context, name string) (*models.Organization, error) {
	return s.findFirst(ctx, func(o *models.Organization) bool {
		return !o.IsDeleted && strings.EqualFold(o.Name, name)
	})
}

func (s *InMemory) List(ctx context.Context, filter models.ListFilter) ([]*models.Organization, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		if matches(o, filter) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) findFirst(ctx context.Context, pred func(*models.Organization) bool) (*models.Organization, error) {
	defer s.guard.Read(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orgs {
		if pred(o) {
			return clone(o), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) checkUniqueLocked(org *models.Organization) error {
	email := org.ContactEmail()
	for _, o := range s.orgs {
		if o.ID == org.ID {
			continue
		}
		if !org.IsDeleted && !o.IsDeleted && o.TaxID == org.TaxID {
			return sentinel.ErrAlreadyUsed
		}
		if email != "" && strings.EqualFold(o.ContactEmail(), email) {
			return sentinel.ErrAlreadyUsed
		}
	}
	return nil
}

func matches(o *models.Organization, f models.ListFilter) bool {
	deleted := false
	if f.IsDeleted != nil {
		deleted = *f.IsDeleted
	}
	if o.IsDeleted != deleted {
		return false
	}
	if f.IsActive != nil && o.IsActive != *f.IsActive {
		return false
	}
	return true
}

func clone(o *models.Organization) *models.Organization {
	c := *o
	if o.Email != nil {
		e := *o.Email
		c.Email = &e
	}
	if o.Phone != nil {
		p := *o.Phone
		c.Phone = &p
	}
	return &c
}
