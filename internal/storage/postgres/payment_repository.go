package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

// Create вставляет платёж и outbox-события одной транзакцией.
func (r *paymentRepository) Create(payment domain.Payment, outbox []domain.OutboxMessage) error {
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
		INSERT INTO payments (
			id, sale_id, payment_date, method, amount_minor, status,
			transaction_reference, receipt_number, notes, processed_by,
			idempotency_key, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.SaleID, payment.PaymentDate, string(payment.Method),
		payment.AmountMinor, string(payment.Status), payment.TransactionReference,
		payment.ReceiptNumber, payment.Notes, payment.ProcessedBy,
		payment.IdempotencyKey, payment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if err = enqueueOutboxTx(ctx, tx, outbox); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByIdempotencyKey(key string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var payment domain.Payment
	var method, status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sale_id, payment_date, method, amount_minor, status,
		       transaction_reference, receipt_number, notes, processed_by,
		       idempotency_key, created_at
		FROM payments
		WHERE idempotency_key = $1
	`, key).Scan(
		&payment.ID, &payment.SaleID, &payment.PaymentDate, &method,
		&payment.AmountMinor, &status, &payment.TransactionReference,
		&payment.ReceiptNumber, &payment.Notes, &payment.ProcessedBy,
		&payment.IdempotencyKey, &payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

func (r *paymentRepository) ListBySale(saleID string) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sale_id, payment_date, method, amount_minor, status,
		       transaction_reference, receipt_number, notes, processed_by,
		       idempotency_key, created_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY created_at DESC, id DESC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		var payment domain.Payment
		var method, status string
		if err := rows.Scan(
			&payment.ID, &payment.SaleID, &payment.PaymentDate, &method,
			&payment.AmountMinor, &status, &payment.TransactionReference,
			&payment.ReceiptNumber, &payment.Notes, &payment.ProcessedBy,
			&payment.IdempotencyKey, &payment.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payment.Method = domain.PaymentMethod(method)
		payment.Status = domain.PaymentStatus(status)
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
