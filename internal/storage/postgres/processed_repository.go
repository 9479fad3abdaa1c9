package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

type processedEventRepository struct {
	db *sql.DB
}

// NewProcessedEventRepository создаёт PostgreSQL-реализацию ProcessedEventRepository.
func NewProcessedEventRepository(store *Store) domain.ProcessedEventRepository {
	return &processedEventRepository{db: store.DB()}
}

func (r *processedEventRepository) MarkProcessed(consumer, eventID string, processedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, $3)
	`, consumer, eventID, processedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *processedEventRepository) Seen(consumer, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events
			WHERE consumer = $1 AND event_id = $2
		)
	`, consumer, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event processed: %w", err)
	}
	return exists, nil
}

// DeleteExpired удаляет отметки старше before порциями, чтобы не держать
// долгие блокировки на горячей таблице.
func (r *processedEventRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 1000
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE (consumer, event_id) IN (
			SELECT consumer, event_id
			FROM processed_events
			WHERE processed_at <= $1
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired processed events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepository)(nil)
