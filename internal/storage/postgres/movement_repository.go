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

type movementRepository struct {
	db *sql.DB
}

// NewStockMovementRepository создаёт PostgreSQL-реализацию StockMovementRepository.
func NewStockMovementRepository(store *Store) domain.StockMovementRepository {
	return &movementRepository{db: store.DB()}
}

func (r *movementRepository) Append(movement domain.StockMovement) (domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var inserted domain.StockMovement
	inserted, err = r.appendTx(ctx, tx, movement)
	if err != nil {
		return domain.StockMovement{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.StockMovement{}, fmt.Errorf("commit append movement: %w", err)
	}
	return inserted, nil
}

// AppendBatch вставляет движения одной продажи, отметку об обработке события
// и outbox-события в одной транзакции: повторная доставка не создаёт вторые
// движения, а зафиксированное списание всегда сопровождается исходом саги в
// outbox.
func (r *movementRepository) AppendBatch(movements []domain.StockMovement, delivery *domain.Delivery, outbox []domain.OutboxMessage) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if delivery != nil {
		if err = markProcessedTx(ctx, tx, delivery); err != nil {
			return nil, err
		}
	}

	result := make([]domain.StockMovement, 0, len(movements))
	for _, movement := range movements {
		var inserted domain.StockMovement
		inserted, err = r.appendTx(ctx, tx, movement)
		if err != nil {
			return nil, err
		}
		result = append(result, inserted)
	}

	if err = enqueueOutboxTx(ctx, tx, outbox); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append batch: %w", err)
	}
	return result, nil
}

func (r *movementRepository) appendTx(ctx context.Context, tx *sql.Tx, movement domain.StockMovement) (domain.StockMovement, error) {
	if movement.IdempotencyKey != "" {
		existing, err := r.getByKeyTx(ctx, tx, movement.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.StockMovement{}, err
		}
	}

	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, product_id, movement_type, qty, reference_type, reference_id,
			notes, location, idempotency_key, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		movement.ID, movement.ProductID, string(movement.Type), movement.Qty,
		movement.ReferenceType, movement.ReferenceID, movement.Notes,
		movement.Location, movement.IdempotencyKey, movement.CreatedBy, movement.CreatedAt,
	)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert stock movement: %w", err)
	}
	return movement, nil
}

func (r *movementRepository) getByKeyTx(ctx context.Context, tx *sql.Tx, key string) (domain.StockMovement, error) {
	var movement domain.StockMovement
	var movementType string
	err := tx.QueryRowContext(ctx, `
		SELECT id, product_id, movement_type, qty, reference_type, reference_id,
		       notes, location, idempotency_key, created_by, created_at
		FROM stock_movements
		WHERE idempotency_key = $1
	`, key).Scan(
		&movement.ID, &movement.ProductID, &movementType, &movement.Qty,
		&movement.ReferenceType, &movement.ReferenceID, &movement.Notes,
		&movement.Location, &movement.IdempotencyKey, &movement.CreatedBy, &movement.CreatedAt,
	)
	if err != nil {
		return domain.StockMovement{}, err
	}
	movement.Type = domain.MovementType(movementType)
	return movement, nil
}

func (r *movementRepository) List(productID string, movementType domain.MovementType, skip, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, product_id, movement_type, qty, reference_type, reference_id,
		       notes, location, idempotency_key, created_by, created_at
		FROM stock_movements
		WHERE 1=1
	`
	args := make([]any, 0, 4)
	if productID != "" {
		args = append(args, productID)
		query += " AND product_id = $" + strconv.Itoa(len(args))
	}
	if movementType != "" {
		args = append(args, string(movementType))
		query += " AND movement_type = $" + strconv.Itoa(len(args))
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
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var movement domain.StockMovement
		var mType string
		if err := rows.Scan(
			&movement.ID, &movement.ProductID, &mType, &movement.Qty,
			&movement.ReferenceType, &movement.ReferenceID, &movement.Notes,
			&movement.Location, &movement.IdempotencyKey, &movement.CreatedBy, &movement.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movement.Type = domain.MovementType(mType)
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

// Level считает остаток как сумму журнала движений.
func (r *movementRepository) Level(productID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0)
		FROM stock_movements
		WHERE product_id = $1
	`, productID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("compute stock level: %w", err)
	}
	return total, nil
}

var _ domain.StockMovementRepository = (*movementRepository)(nil)
