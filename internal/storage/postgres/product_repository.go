package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (
			id, code, name, description, product_type, unit,
			min_stock_level, max_stock_level, unit_cost_minor, unit_price_minor,
			is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		product.ID, product.Code, product.Name, product.Description,
		string(product.Type), product.Unit, product.MinStockLevel,
		product.MaxStockLevel, product.UnitCostMinor, product.UnitPriceMinor,
		product.IsActive, product.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductCodeTaken
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	return r.getWhere("id = $1", id)
}

func (r *productRepository) GetByCode(code string) (domain.Product, error) {
	return r.getWhere("code = $1", code)
}

func (r *productRepository) getWhere(where string, arg any) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product
	var productType string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, product_type, unit,
		       min_stock_level, max_stock_level, unit_cost_minor, unit_price_minor,
		       is_active, created_at
		FROM products
		WHERE `+where, arg).Scan(
		&product.ID, &product.Code, &product.Name, &product.Description,
		&productType, &product.Unit, &product.MinStockLevel, &product.MaxStockLevel,
		&product.UnitCostMinor, &product.UnitPriceMinor, &product.IsActive, &product.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Type = domain.ProductType(productType)
	return product, nil
}

func (r *productRepository) List(productType domain.ProductType, activeOnly bool, skip, limit int) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, code, name, description, product_type, unit,
		       min_stock_level, max_stock_level, unit_cost_minor, unit_price_minor,
		       is_active, created_at
		FROM products
		WHERE 1=1
	`
	args := make([]any, 0, 3)
	if productType != "" {
		args = append(args, string(productType))
		query += " AND product_type = $" + strconv.Itoa(len(args))
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
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var product domain.Product
		var pType string
		if err := rows.Scan(
			&product.ID, &product.Code, &product.Name, &product.Description,
			&pType, &product.Unit, &product.MinStockLevel, &product.MaxStockLevel,
			&product.UnitCostMinor, &product.UnitPriceMinor, &product.IsActive, &product.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		product.Type = domain.ProductType(pType)
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
