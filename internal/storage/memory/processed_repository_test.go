package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

func TestProcessedEventRepository_MarkAndSeen(t *testing.T) {
	repo := memory.NewProcessedEventRepository()

	if err := repo.MarkProcessed("sales-service", "evt-1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	seen, err := repo.Seen("sales-service", "evt-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Fatalf("expected evt-1 to be seen")
	}

	// Другой консьюмер обрабатывает то же событие независимо.
	seen, err = repo.Seen("accounting-service", "evt-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Fatalf("expected evt-1 to be unseen for another consumer")
	}

	err = repo.MarkProcessed("sales-service", "evt-1", time.Now().UTC())
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
}

func TestProcessedEventRepository_DeleteExpired(t *testing.T) {
	repo := memory.NewProcessedEventRepository()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := repo.MarkProcessed("sales-service", "evt-old", old); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if err := repo.MarkProcessed("sales-service", "evt-fresh", time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	removed, err := repo.DeleteExpired(time.Now().UTC().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}

	seen, err := repo.Seen("sales-service", "evt-old")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Fatalf("expected evt-old to be deleted")
	}

	seen, err = repo.Seen("sales-service", "evt-fresh")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Fatalf("expected evt-fresh to survive cleanup")
	}
}
