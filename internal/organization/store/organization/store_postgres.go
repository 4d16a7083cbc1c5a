package organization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"concierge/internal/organization/models"
	"concierge/internal/platform/postgres"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/platform/tx"
)

// PostgresStore persists organizations in PostgreSQL. Calls made with a
// context carrying a transaction (pkg/platform/tx) run inside it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	id, name, tax_id, street, number, neighborhood, city, state, zip_code,
	email, phone, is_active, is_deleted, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.TaxID,
		org.Address.Street,
		org.Address.Number,
		org.Address.Neighborhood,
		org.Address.City,
		org.Address.State,
		org.Address.ZipCode,
		org.Email,
		org.Phone,
		org.IsActive,
		org.IsDeleted,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w", postgres.ConstraintName(err), sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, org *models.Organization) error {
	query := `
		UPDATE organizations SET
			name = $2, tax_id = $3, street = $4, number = $5, neighborhood = $6,
			city = $7, state = $8, zip_code = $9, email = $10, phone = $11,
			is_active = $12, is_deleted = $13, updated_at = $14
		WHERE id = $1
	`
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.TaxID,
		org.Address.Street,
		org.Address.Number,
		org.Address.Neighborhood,
		org.Address.City,
		org.Address.State,
		org.Address.ZipCode,
		org.Email,
		org.Phone,
		org.IsActive,
		org.IsDeleted,
		org.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w", postgres.ConstraintName(err), sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("update organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update organization rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindByTaxID(ctx context.Context, taxID string) (*models.Organization, error) {
	return s.findOne(ctx, `WHERE tax_id = $1 AND NOT is_deleted`, taxID)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Organization, error) {
	return s.findOne(ctx, `WHERE lower(email) = lower($1) AND NOT is_deleted`, email)
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Organization, error) {
	return s.findOne(ctx, `WHERE lower(name) = lower($1) AND NOT is_deleted ORDER BY created_at LIMIT 1`, name)
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Organization, error) {
	deleted := false
	if filter.IsDeleted != nil {
		deleted = *filter.IsDeleted
	}
	conds := []string{"is_deleted = $1"}
	args := []any{deleted}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + selectColumns + ` FROM organizations WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Organization, error) {
	query := `SELECT ` + selectColumns + ` FROM organizations ` + where
	org, err := scan(tx.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return org, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*models.Organization, error) {
	var (
		org   models.Organization
		email sql.NullString
		phone sql.NullString
	)
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.TaxID,
		&org.Address.Street,
		&org.Address.Number,
		&org.Address.Neighborhood,
		&org.Address.City,
		&org.Address.State,
		&org.Address.ZipCode,
		&email,
		&phone,
		&org.IsActive,
		&org.IsDeleted,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		org.Email = &email.String
	}
	if phone.Valid {
		org.Phone = &phone.String
	}
	return &org, nil
}
