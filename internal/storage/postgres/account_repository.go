package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type accountRepository struct {
	db *sql.DB
}

// NewAccountRepository создаёт PostgreSQL-реализацию AccountRepository.
func NewAccountRepository(store *Store) domain.AccountRepository {
	return &accountRepository{db: store.DB()}
}

func (r *accountRepository) Create(account domain.Account) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, code, name, account_type, parent_account_id, description,
			is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		account.ID, account.Code, account.Name, string(account.Type),
		account.ParentAccountID, account.Description, account.IsActive, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountCodeTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepository) Get(id string) (domain.Account, error) {
	return r.getWhere("id = $1", id)
}

func (r *accountRepository) GetByCode(code string) (domain.Account, error) {
	return r.getWhere("code = $1", code)
}

func (r *accountRepository) getWhere(where string, arg any) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var account domain.Account
	var accountType string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, account_type, parent_account_id, description,
		       is_active, created_at
		FROM accounts
		WHERE `+where, arg).Scan(
		&account.ID, &account.Code, &account.Name, &accountType,
		&account.ParentAccountID, &account.Description, &account.IsActive, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	account.Type = domain.AccountType(accountType)
	return account, nil
}

func (r *accountRepository) List(accountType domain.AccountType, activeOnly bool, skip, limit int) ([]domain.Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, code, name, account_type, parent_account_id, description,
		       is_active, created_at
		FROM accounts
		WHERE 1=1
	`
	args := make([]any, 0, 3)
	if accountType != "" {
		args = append(args, string(accountType))
		query += " AND account_type = $" + strconv.Itoa(len(args))
	}
	if activeOnly {
		query += " AND is_active = TRUE"
	}

	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY code ASC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, skip)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		var account domain.Account
		var aType string
		if err := rows.Scan(
			&account.ID, &account.Code, &account.Name, &aType,
			&account.ParentAccountID, &account.Description, &account.IsActive, &account.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		account.Type = domain.AccountType(aType)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}

	return accounts, nil
}

var _ domain.AccountRepository = (*accountRepository)(nil)
