package memory_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

func TestStockMovementRepository_AppendIdempotentByKey(t *testing.T) {
	repo := memory.NewStockMovementRepository(nil, nil)

	first, err := repo.Append(domain.StockMovement{
		ProductID:      "prod-1",
		Type:           domain.MovementTypeEntree,
		Qty:            50,
		IdempotencyKey: "purchase_p1_prod-1",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected generated movement id")
	}

	// Повтор с тем же ключом возвращает существующую запись без вставки.
	again, err := repo.Append(domain.StockMovement{
		ProductID:      "prod-1",
		Type:           domain.MovementTypeEntree,
		Qty:            50,
		IdempotencyKey: "purchase_p1_prod-1",
	})
	if err != nil {
		t.Fatalf("Append retry failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same movement id %s, got %s", first.ID, again.ID)
	}

	level, err := repo.Level("prod-1")
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level != 50 {
		t.Fatalf("expected level 50, got %d", level)
	}
}

func TestStockMovementRepository_LevelSumsLog(t *testing.T) {
	repo := memory.NewStockMovementRepository(nil, nil)

	movements := []domain.StockMovement{
		{ProductID: "prod-1", Type: domain.MovementTypeEntree, Qty: 100},
		{ProductID: "prod-1", Type: domain.MovementTypeSortie, Qty: -30},
		{ProductID: "prod-1", Type: domain.MovementTypeAjustement, Qty: -5},
		{ProductID: "prod-2", Type: domain.MovementTypeEntree, Qty: 7},
	}
	for _, movement := range movements {
		if _, err := repo.Append(movement); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	level, err := repo.Level("prod-1")
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level != 65 {
		t.Fatalf("expected level 65, got %d", level)
	}

	level, err = repo.Level("prod-2")
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level != 7 {
		t.Fatalf("expected level 7, got %d", level)
	}

	level, err = repo.Level("missing")
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level != 0 {
		t.Fatalf("expected level 0 for unknown product, got %d", level)
	}
}

func TestStockMovementRepository_AppendBatchMarksDelivery(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	repo := memory.NewStockMovementRepository(processed, nil)

	batch := []domain.StockMovement{
		{ProductID: "prod-1", Type: domain.MovementTypeSortie, Qty: -4, IdempotencyKey: "sale_s1_prod-1"},
		{ProductID: "prod-2", Type: domain.MovementTypeSortie, Qty: -2, IdempotencyKey: "sale_s1_prod-2"},
	}
	delivery := &domain.Delivery{Consumer: "inventory-service", EventID: "evt-1"}

	inserted, err := repo.AppendBatch(batch, delivery, nil)
	if err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserted movements, got %d", len(inserted))
	}

	// Повторная доставка того же события не должна списать склад второй раз.
	if _, err := repo.AppendBatch(batch, delivery, nil); !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	level, err := repo.Level("prod-1")
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level != -4 {
		t.Fatalf("expected single decrement -4, got %d", level)
	}
}

func TestStockMovementRepository_ListFilters(t *testing.T) {
	repo := memory.NewStockMovementRepository(nil, nil)

	movements := []domain.StockMovement{
		{ProductID: "prod-1", Type: domain.MovementTypeEntree, Qty: 10},
		{ProductID: "prod-1", Type: domain.MovementTypeSortie, Qty: -3},
		{ProductID: "prod-2", Type: domain.MovementTypeEntree, Qty: 5},
	}
	for _, movement := range movements {
		if _, err := repo.Append(movement); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	byProduct, err := repo.List("prod-1", "", 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byProduct) != 2 {
		t.Fatalf("expected 2 movements for prod-1, got %d", len(byProduct))
	}

	byType, err := repo.List("", domain.MovementTypeSortie, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byType) != 1 || byType[0].Qty != -3 {
		t.Fatalf("expected single SORTIE with qty -3, got %+v", byType)
	}
}
