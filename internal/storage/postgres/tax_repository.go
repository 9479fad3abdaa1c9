package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type taxRepository struct {
	db *sql.DB
}

// NewTaxRepository создаёт PostgreSQL-реализацию TaxRepository.
func NewTaxRepository(store *Store) domain.TaxRepository {
	return &taxRepository{db: store.DB()}
}

// Create вставляет налоговую запись, отметку об обработке события и
// outbox-события в одной транзакции. Повтор по ключу идемпотентности
// возвращает существующую запись.
func (r *taxRepository) Create(record domain.TaxRecord, delivery *domain.Delivery, outbox []domain.OutboxMessage) (domain.TaxRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if record.IdempotencyKey != "" {
		existing, err := r.GetByIdempotencyKey(record.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrTaxRecordNotFound) {
			return domain.TaxRecord{}, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaxRecord{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if delivery != nil {
		if err = markProcessedTx(ctx, tx, delivery); err != nil {
			return domain.TaxRecord{}, err
		}
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tax_records (
			id, tax_type, base_amount_minor, rate_bps, tax_amount_minor,
			reference_type, reference_id, transaction_date, fiscal_month,
			fiscal_year, description, idempotency_key, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		record.ID, string(record.Type), record.BaseAmountMinor, record.RateBps,
		record.TaxAmountMinor, record.ReferenceType, record.ReferenceID,
		record.TransactionDate, record.FiscalMonth, record.FiscalYear,
		record.Description, record.IdempotencyKey, record.CreatedBy, record.CreatedAt,
	)
	if err != nil {
		return domain.TaxRecord{}, fmt.Errorf("insert tax record: %w", err)
	}

	if err = enqueueOutboxTx(ctx, tx, outbox); err != nil {
		return domain.TaxRecord{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.TaxRecord{}, fmt.Errorf("commit create tax record: %w", err)
	}

	return record, nil
}

func (r *taxRepository) GetByIdempotencyKey(key string) (domain.TaxRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var record domain.TaxRecord
	var taxType string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tax_type, base_amount_minor, rate_bps, tax_amount_minor,
		       reference_type, reference_id, transaction_date, fiscal_month,
		       fiscal_year, description, idempotency_key, created_by, created_at
		FROM tax_records
		WHERE idempotency_key = $1
	`, key).Scan(
		&record.ID, &taxType, &record.BaseAmountMinor, &record.RateBps,
		&record.TaxAmountMinor, &record.ReferenceType, &record.ReferenceID,
		&record.TransactionDate, &record.FiscalMonth, &record.FiscalYear,
		&record.Description, &record.IdempotencyKey, &record.CreatedBy, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TaxRecord{}, domain.ErrTaxRecordNotFound
		}
		return domain.TaxRecord{}, fmt.Errorf("select tax record: %w", err)
	}
	record.Type = domain.TaxType(taxType)
	return record, nil
}

func (r *taxRepository) List(taxType domain.TaxType, fiscalMonth, referenceType string, skip, limit int) ([]domain.TaxRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, tax_type, base_amount_minor, rate_bps, tax_amount_minor,
		       reference_type, reference_id, transaction_date, fiscal_month,
		       fiscal_year, description, idempotency_key, created_by, created_at
		FROM tax_records
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if taxType != "" {
		args = append(args, string(taxType))
		query += " AND tax_type = $" + strconv.Itoa(len(args))
	}
	if fiscalMonth != "" {
		args = append(args, fiscalMonth)
		query += " AND fiscal_month = $" + strconv.Itoa(len(args))
	}
	if referenceType != "" {
		args = append(args, referenceType)
		query += " AND reference_type = $" + strconv.Itoa(len(args))
	}

	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, skip)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tax records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TaxRecord, 0)
	for rows.Next() {
		var record domain.TaxRecord
		var tType string
		if err := rows.Scan(
			&record.ID, &tType, &record.BaseAmountMinor, &record.RateBps,
			&record.TaxAmountMinor, &record.ReferenceType, &record.ReferenceID,
			&record.TransactionDate, &record.FiscalMonth, &record.FiscalYear,
			&record.Description, &record.IdempotencyKey, &record.CreatedBy, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tax record: %w", err)
		}
		record.Type = domain.TaxType(tType)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tax records: %w", err)
	}

	return records, nil
}

// MonthlyReport агрегирует налоги по месяцам фискального года.
func (r *taxRepository) MonthlyReport(fiscalYear string) ([]domain.MonthlyTVA, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT fiscal_month,
		       COALESCE(SUM(tax_amount_minor) FILTER (WHERE tax_type = 'tva_collectee'), 0),
		       COALESCE(SUM(tax_amount_minor) FILTER (WHERE tax_type = 'tva_deductible'), 0),
		       COUNT(*) FILTER (WHERE tax_type = 'tva_collectee'),
		       COUNT(*) FILTER (WHERE tax_type = 'tva_deductible')
		FROM tax_records
		WHERE fiscal_year = $1
		GROUP BY fiscal_month
		ORDER BY fiscal_month ASC
	`, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("monthly tva report: %w", err)
	}
	defer rows.Close()

	report := make([]domain.MonthlyTVA, 0, 12)
	for rows.Next() {
		var row domain.MonthlyTVA
		if err := rows.Scan(
			&row.FiscalMonth, &row.CollecteeMinor, &row.DeductibleMinor,
			&row.SalesCount, &row.PurchasesCount,
		); err != nil {
			return nil, fmt.Errorf("scan monthly tva row: %w", err)
		}
		row.NetMinor = row.CollecteeMinor - row.DeductibleMinor
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monthly tva rows: %w", err)
	}

	return report, nil
}

var _ domain.TaxRepository = (*taxRepository)(nil)
