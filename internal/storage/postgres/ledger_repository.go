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

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создаёт PostgreSQL-реализацию LedgerRepository.
func NewLedgerRepository(store *Store) domain.LedgerRepository {
	return &ledgerRepository{db: store.DB()}
}

func (r *ledgerRepository) Create(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := r.insert(ctx, r.db, entry); err != nil {
		// Повтор по ключу идемпотентности возвращает существующую проводку.
		if entry.IdempotencyKey != "" && isUniqueViolation(err) {
			return r.getByKey(ctx, entry.IdempotencyKey)
		}
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (r *ledgerRepository) getByKey(ctx context.Context, key string) (domain.LedgerEntry, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM ledger_entries WHERE idempotency_key = $1
	`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrEntryNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("select ledger entry by key: %w", err)
	}
	return r.Get(id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *ledgerRepository) insert(ctx context.Context, db execer, entry domain.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, entry_date, entry_type, debit_account_id, credit_account_id,
			amount_minor, reference_type, reference_id, description, notes,
			fiscal_month, fiscal_year, is_reversed, reverses_entry_id,
			idempotency_key, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		entry.ID, entry.EntryDate, string(entry.Type), entry.DebitAccountID,
		entry.CreditAccountID, entry.AmountMinor, entry.ReferenceType,
		entry.ReferenceID, entry.Description, entry.Notes, entry.FiscalMonth,
		entry.FiscalYear, entry.IsReversed, entry.ReversesEntryID,
		entry.IdempotencyKey, entry.CreatedBy, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) Get(id string) (domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var entry domain.LedgerEntry
	var entryType string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, entry_date, entry_type, debit_account_id, credit_account_id,
		       amount_minor, reference_type, reference_id, description, notes,
		       fiscal_month, fiscal_year, is_reversed, reverses_entry_id,
		       idempotency_key, created_by, created_at
		FROM ledger_entries
		WHERE id = $1
	`, id).Scan(
		&entry.ID, &entry.EntryDate, &entryType, &entry.DebitAccountID,
		&entry.CreditAccountID, &entry.AmountMinor, &entry.ReferenceType,
		&entry.ReferenceID, &entry.Description, &entry.Notes, &entry.FiscalMonth,
		&entry.FiscalYear, &entry.IsReversed, &entry.ReversesEntryID,
		&entry.IdempotencyKey, &entry.CreatedBy, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrEntryNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("select ledger entry: %w", err)
	}
	entry.Type = domain.EntryType(entryType)
	return entry, nil
}

func (r *ledgerRepository) List(filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, entry_date, entry_type, debit_account_id, credit_account_id,
		       amount_minor, reference_type, reference_id, description, notes,
		       fiscal_month, fiscal_year, is_reversed, reverses_entry_id,
		       idempotency_key, created_by, created_at
		FROM ledger_entries
		WHERE 1=1
	`
	args := make([]any, 0, 6)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += " AND entry_type = $" + strconv.Itoa(len(args))
	}
	if filter.FiscalMonth != "" {
		args = append(args, filter.FiscalMonth)
		query += " AND fiscal_month = $" + strconv.Itoa(len(args))
	}
	if filter.ReferenceType != "" {
		args = append(args, filter.ReferenceType)
		query += " AND reference_type = $" + strconv.Itoa(len(args))
	}
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		query += " AND reference_id = $" + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Skip)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var entry domain.LedgerEntry
		var entryType string
		if err := rows.Scan(
			&entry.ID, &entry.EntryDate, &entryType, &entry.DebitAccountID,
			&entry.CreditAccountID, &entry.AmountMinor, &entry.ReferenceType,
			&entry.ReferenceID, &entry.Description, &entry.Notes, &entry.FiscalMonth,
			&entry.FiscalYear, &entry.IsReversed, &entry.ReversesEntryID,
			&entry.IdempotencyKey, &entry.CreatedBy, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Type = domain.EntryType(entryType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

// Reverse вставляет сторно и выставляет is_reversed у оригинала в одной
// транзакции. Условие is_reversed = FALSE в UPDATE отбрасывает гонку двух
// одновременных сторно: проигравший получает ErrEntryAlreadyReversed.
func (r *ledgerRepository) Reverse(originalID string, reversal domain.LedgerEntry) (domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET is_reversed = TRUE
		WHERE id = $1
		  AND is_reversed = FALSE
	`, originalID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("mark entry reversed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, checkErr := r.entryExistsTx(ctx, tx, originalID)
		if checkErr != nil {
			err = checkErr
			return domain.LedgerEntry{}, err
		}
		if !exists {
			err = domain.ErrEntryNotFound
			return domain.LedgerEntry{}, err
		}
		err = domain.ErrEntryAlreadyReversed
		return domain.LedgerEntry{}, err
	}

	if reversal.ID == "" {
		reversal.ID = uuid.NewString()
	}
	if reversal.CreatedAt.IsZero() {
		reversal.CreatedAt = time.Now().UTC()
	}
	reversal.ReversesEntryID = originalID

	if err = r.insert(ctx, tx, reversal); err != nil {
		return domain.LedgerEntry{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("commit reverse entry: %w", err)
	}

	return reversal, nil
}

func (r *ledgerRepository) entryExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var found string
	err := tx.QueryRowContext(ctx, `SELECT id FROM ledger_entries WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check ledger entry exists: %w", err)
}

var _ domain.LedgerRepository = (*ledgerRepository)(nil)
