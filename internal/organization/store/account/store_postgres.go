package account

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

// PostgresStore persists admin accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, acct *models.AdminAccount) error {
	query := `
		INSERT INTO admin_accounts (
			id, email, password_hash, is_active, is_deleted,
			organization_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		acct.ID,
		acct.Email,
		acct.PasswordHash,
		acct.IsActive,
		acct.IsDeleted,
		acct.OrganizationID,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w", postgres.ConstraintName(err), sentinel.ErrAlreadyUsed)
		}
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("organization %s: %w", acct.OrganizationID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert admin account: %w", err)
	}
	return nil
}

const selectColumns = `id, email, password_hash, is_active, is_deleted,
	organization_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) Update(ctx context.Context, acct *models.AdminAccount) error {
	query := `
		UPDATE admin_accounts SET
			email = $2, password_hash = $3, is_active = $4, is_deleted = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		acct.ID,
		acct.Email,
		acct.PasswordHash,
		acct.IsActive,
		acct.IsDeleted,
		acct.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w", postgres.ConstraintName(err), sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("update admin account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin account rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	return s.findOne(ctx, `WHERE lower(email) = lower($1)`, email)
}

// List returns matching accounts oldest first.
func (s *PostgresStore) List(ctx context.Context, filter models.AccountFilter) ([]*models.AdminAccount, error) {
	deleted := false
	if filter.IsDeleted != nil {
		deleted = *filter.IsDeleted
	}
	conds := []string{"is_deleted = $1"}
	args := []any{deleted}
	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		conds = append(conds, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + selectColumns + ` FROM admin_accounts WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at`

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list admin accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.AdminAccount
	for rows.Next() {
		acct, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin accounts: %w", err)
	}
	return out, nil
}

// ListByOrganization returns the live accounts of orgID.
func (s *PostgresStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.AdminAccount, error) {
	return s.List(ctx, models.AccountFilter{OrganizationID: &orgID})
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.AdminAccount, error) {
	query := `SELECT ` + selectColumns + ` FROM admin_accounts ` + where
	acct, err := scan(tx.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find admin account: %w", err)
	}
	return acct, nil
}

func scan(row rowScanner) (*models.AdminAccount, error) {
	var acct models.AdminAccount
	if err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.PasswordHash,
		&acct.IsActive,
		&acct.IsDeleted,
		&acct.OrganizationID,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &acct, nil
}
