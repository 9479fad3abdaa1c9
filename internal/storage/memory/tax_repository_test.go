package memory_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

func newTaxRecord(taxType domain.TaxType, month, key string) domain.TaxRecord {
	return domain.TaxRecord{
		Type:            taxType,
		BaseAmountMinor: 10000,
		RateBps:         domain.DefaultTaxRateBps,
		TaxAmountMinor:  1925,
		ReferenceType:   "sale",
		ReferenceID:     "sale-1",
		TransactionDate: month + "-15",
		FiscalMonth:     month,
		FiscalYear:      month[:4],
		IdempotencyKey:  key,
	}
}

func TestTaxRepository_CreateIdempotentByKey(t *testing.T) {
	repo := memory.NewTaxRepository(nil, nil)

	first, err := repo.Create(newTaxRecord(domain.TaxTypeCollectee, "2026-08", "sale_sale-1_tva"), nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected generated record id")
	}

	again, err := repo.Create(newTaxRecord(domain.TaxTypeCollectee, "2026-08", "sale_sale-1_tva"), nil, nil)
	if err != nil {
		t.Fatalf("Create retry failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same record id %s, got %s", first.ID, again.ID)
	}

	got, err := repo.GetByIdempotencyKey("sale_sale-1_tva")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey failed: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected record %s, got %s", first.ID, got.ID)
	}

	if _, err := repo.GetByIdempotencyKey("missing"); !errors.Is(err, domain.ErrTaxRecordNotFound) {
		t.Fatalf("expected ErrTaxRecordNotFound, got %v", err)
	}
}

func TestTaxRepository_CreateMarksDelivery(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	repo := memory.NewTaxRepository(processed, nil)

	delivery := &domain.Delivery{Consumer: "accounting-service", EventID: "evt-1"}
	if _, err := repo.Create(newTaxRecord(domain.TaxTypeCollectee, "2026-08", "k1"), delivery, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	seen, err := processed.Seen("accounting-service", "evt-1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Fatalf("expected delivery evt-1 to be marked processed")
	}

	// Повтор по ключу возвращает запись до проверки доставки: падение между
	// проводкой и налоговой записью не должно блокировать повторную обработку.
	if _, err := repo.Create(newTaxRecord(domain.TaxTypeCollectee, "2026-08", "k1"), delivery, nil); err != nil {
		t.Fatalf("Create retry with same key failed: %v", err)
	}

	// Новая запись под уже отмеченной доставкой отклоняется.
	_, err = repo.Create(newTaxRecord(domain.TaxTypeDeductible, "2026-08", "k2"), delivery, nil)
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
}

func TestTaxRepository_CreateEnqueuesOutboxOnce(t *testing.T) {
	outbox := memory.NewOutboxRepository(nil)
	repo := memory.NewTaxRepository(nil, outbox)

	msgs := []domain.OutboxMessage{
		{EventType: "ledger.posted", CorrelationID: "corr-1"},
		{EventType: "tax.collectee.recorded", CorrelationID: "corr-1"},
	}
	record := newTaxRecord(domain.TaxTypeCollectee, "2026-08", "sale_sale-1_tva")
	if _, err := repo.Create(record, nil, msgs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Повтор по ключу возвращает запись, события остаются от первой вставки.
	if _, err := repo.Create(record, nil, msgs); err != nil {
		t.Fatalf("Create retry failed: %v", err)
	}

	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending outbox messages, got %d", len(pending))
	}
}

func TestTaxRepository_MonthlyReport(t *testing.T) {
	repo := memory.NewTaxRepository(nil, nil)

	records := []domain.TaxRecord{
		newTaxRecord(domain.TaxTypeCollectee, "2026-08", "c1"),
		newTaxRecord(domain.TaxTypeCollectee, "2026-08", "c2"),
		newTaxRecord(domain.TaxTypeDeductible, "2026-08", "d1"),
		newTaxRecord(domain.TaxTypeCollectee, "2026-09", "c3"),
		newTaxRecord(domain.TaxTypeCollectee, "2025-12", "old"),
	}
	for _, record := range records {
		if _, err := repo.Create(record, nil, nil); err != nil {
			t.Fatalf("Create %s failed: %v", record.IdempotencyKey, err)
		}
	}

	report, err := repo.MonthlyReport("2026")
	if err != nil {
		t.Fatalf("MonthlyReport failed: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 months in report, got %d", len(report))
	}

	august := report[0]
	if august.FiscalMonth != "2026-08" {
		t.Fatalf("expected months sorted ascending, got %s first", august.FiscalMonth)
	}
	if august.CollecteeMinor != 3850 || august.DeductibleMinor != 1925 {
		t.Fatalf("unexpected august totals: %+v", august)
	}
	if august.NetMinor != 1925 {
		t.Fatalf("expected net 1925, got %d", august.NetMinor)
	}
	if august.SalesCount != 2 || august.PurchasesCount != 1 {
		t.Fatalf("unexpected august counters: %+v", august)
	}

	september := report[1]
	if september.CollecteeMinor != 1925 || september.DeductibleMinor != 0 {
		t.Fatalf("unexpected september totals: %+v", september)
	}
}
