package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Create(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, code, name, phone_number, email, address, customer_type,
			tax_id, credit_limit, current_balance, is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		customer.ID, customer.Code, customer.Name, customer.PhoneNumber,
		customer.Email, customer.Address, customer.CustomerType, customer.TaxID,
		customer.CreditLimit, customer.CurrentBalance, customer.IsActive, customer.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCustomerCodeTaken
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) Get(id string) (domain.Customer, error) {
	return r.getWhere("id = $1", id)
}

func (r *customerRepository) GetByCode(code string) (domain.Customer, error) {
	return r.getWhere("code = $1", code)
}

func (r *customerRepository) getWhere(where string, arg any) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, phone_number, email, address, customer_type,
		       tax_id, credit_limit, current_balance, is_active, created_at
		FROM customers
		WHERE `+where, arg).Scan(
		&customer.ID, &customer.Code, &customer.Name, &customer.PhoneNumber,
		&customer.Email, &customer.Address, &customer.CustomerType, &customer.TaxID,
		&customer.CreditLimit, &customer.CurrentBalance, &customer.IsActive, &customer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return customer, nil
}

func (r *customerRepository) List(activeOnly bool, skip, limit int) ([]domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, code, name, phone_number, email, address, customer_type,
		       tax_id, credit_limit, current_balance, is_active, created_at
		FROM customers
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY code ASC LIMIT $1 OFFSET $2"

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(
			&customer.ID, &customer.Code, &customer.Name, &customer.PhoneNumber,
			&customer.Email, &customer.Address, &customer.CustomerType, &customer.TaxID,
			&customer.CreditLimit, &customer.CurrentBalance, &customer.IsActive, &customer.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer rows: %w", err)
	}

	return customers, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
