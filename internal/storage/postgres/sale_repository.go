package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

// Create вставляет продажу, её позиции и outbox-события одной транзакцией:
// зафиксированная продажа всегда сопровождается sale.created в outbox.
func (r *saleRepository) Create(sale domain.Sale, outbox []domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, customer_id, sale_date, status, correlation_id,
			idempotency_key, subtotal_minor, tax_amount_minor, total_minor,
			notes, delivery_address, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		sale.ID, sale.SaleNumber, sale.CustomerID, sale.SaleDate, string(sale.Status),
		sale.CorrelationID, sale.IdempotencyKey, sale.SubtotalMinor, sale.TaxAmountMinor,
		sale.TotalMinor, sale.Notes, sale.DeliveryAddress, sale.CreatedBy,
		sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for _, line := range sale.Lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				id, sale_id, product_id, product_code, product_name,
				qty, unit_price_minor, line_total_minor, tax_rate_bps, tax_amount_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			line.ID, sale.ID, line.ProductID, line.ProductCode, line.ProductName,
			line.Qty, line.UnitPriceMinor, line.LineTotalMinor, line.TaxRateBps, line.TaxAmountMinor,
		); err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}

	if err = enqueueOutboxTx(ctx, tx, outbox); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	return nil
}

func (r *saleRepository) Get(id string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getWhere(ctx, "id = $1", id)
}

func (r *saleRepository) GetByIdempotencyKey(key string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getWhere(ctx, "idempotency_key = $1", key)
}

func (r *saleRepository) getWhere(ctx context.Context, where string, arg any) (domain.Sale, error) {
	var sale domain.Sale
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, sale_number, customer_id, sale_date, status, correlation_id,
		       idempotency_key, subtotal_minor, tax_amount_minor, total_minor,
		       notes, delivery_address, created_by, created_at, updated_at
		FROM sales
		WHERE `+where, arg).Scan(
		&sale.ID, &sale.SaleNumber, &sale.CustomerID, &sale.SaleDate, &status,
		&sale.CorrelationID, &sale.IdempotencyKey, &sale.SubtotalMinor,
		&sale.TaxAmountMinor, &sale.TotalMinor, &sale.Notes, &sale.DeliveryAddress,
		&sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}
	sale.Status = domain.SaleStatus(status)

	lines, err := r.loadLines(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Lines = lines

	return sale, nil
}

func (r *saleRepository) List(filter domain.SaleFilter) ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, sale_number, customer_id, sale_date, status, correlation_id,
		       idempotency_key, subtotal_minor, tax_amount_minor, total_minor,
		       notes, delivery_address, created_by, created_at, updated_at
		FROM sales
		WHERE 1=1
	`
	args := make([]any, 0, 6)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		query += " AND customer_id = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.FromDate != "" {
		args = append(args, filter.FromDate)
		query += " AND sale_date >= $" + strconv.Itoa(len(args))
	}
	if filter.ToDate != "" {
		args = append(args, filter.ToDate)
		query += " AND sale_date <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Skip > 0 {
		args = append(args, filter.Skip)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0)
	for rows.Next() {
		var sale domain.Sale
		var status string
		if err := rows.Scan(
			&sale.ID, &sale.SaleNumber, &sale.CustomerID, &sale.SaleDate, &status,
			&sale.CorrelationID, &sale.IdempotencyKey, &sale.SubtotalMinor,
			&sale.TaxAmountMinor, &sale.TotalMinor, &sale.Notes, &sale.DeliveryAddress,
			&sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		sale.Status = domain.SaleStatus(status)

		lines, err := r.loadLines(ctx, sale.ID)
		if err != nil {
			return nil, err
		}
		sale.Lines = lines
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale rows: %w", err)
	}

	return sales, nil
}

func (r *saleRepository) CountByNumberPrefix(prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sales
		WHERE sale_number LIKE $1 || '%'
	`, prefix).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sales by number prefix: %w", err)
	}
	return count, nil
}

// Transition переводит продажу из статуса from в to. Отметка об обработке
// события пишется в той же транзакции, что и смена статуса: после сбоя
// процесса эффект остаётся ровно одним.
func (r *saleRepository) Transition(id string, from, to domain.SaleStatus, delivery *domain.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if delivery != nil {
		if err = markProcessedTx(ctx, tx, delivery); err != nil {
			return err
		}
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $1,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update sale status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, checkErr := r.saleExistsTx(ctx, tx, id)
		if checkErr != nil {
			err = checkErr
			return err
		}
		if !exists {
			err = domain.ErrSaleNotFound
			return err
		}
		err = domain.ErrSaleTerminal
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sale transition: %w", err)
	}

	return nil
}

func (r *saleRepository) loadLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, product_code, product_name,
		       qty, unit_price_minor, line_total_minor, tax_rate_bps, tax_amount_minor
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(
			&line.ID, &line.ProductID, &line.ProductCode, &line.ProductName,
			&line.Qty, &line.UnitPriceMinor, &line.LineTotalMinor, &line.TaxRateBps,
			&line.TaxAmountMinor,
		); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale lines: %w", err)
	}

	return lines, nil
}

func (r *saleRepository) saleExistsTx(ctx context.Context, tx *sql.Tx, saleID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1`, saleID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check sale exists: %w", err)
}

// markProcessedTx вставляет отметку об обработке доставки внутри переданной
// транзакции. Конфликт уникальности означает повторную доставку.
func markProcessedTx(ctx context.Context, tx *sql.Tx, delivery *domain.Delivery) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, $3)
	`, delivery.Consumer, delivery.EventID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SaleRepository = (*saleRepository)(nil)
