package sales_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
	"github.com/vladislavdragonenkov/agroms/internal/service/sales"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

type fixture struct {
	service  *sales.Service
	sales    domain.SaleRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	guard    *dedup.Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	processed := memory.NewProcessedEventRepository()
	outbox := memory.NewOutboxRepository(processed)
	saleRepo := memory.NewSaleRepository(processed, outbox)
	customers := memory.NewCustomerRepository()
	payments := memory.NewPaymentRepository(outbox)
	timeline := memory.NewTimelineRepository()
	guard := dedup.NewGuard(sales.ProducerName, processed)

	if err := customers.Create(domain.Customer{
		ID:       "cust-1",
		Code:     "CLI-001",
		Name:     "Cooperative Nkolbisson",
		IsActive: true,
	}); err != nil {
		t.Fatalf("seed customer failed: %v", err)
	}

	return &fixture{
		service:  sales.NewService(saleRepo, customers, payments, timeline, outbox, guard, nil),
		sales:    saleRepo,
		outbox:   outbox,
		timeline: timeline,
		guard:    guard,
	}
}

func saleInput(key string) sales.CreateSaleInput {
	return sales.CreateSaleInput{
		CustomerID:     "cust-1",
		SaleDate:       "2026-08-31",
		IdempotencyKey: key,
		CreatedBy:      "user-1",
		Lines: []sales.CreateSaleLineInput{
			{ProductID: "prod-1", ProductCode: "ENG-001", Qty: 4, UnitPriceMinor: 2500},
		},
	}
}

func TestCreateSale_ComputesTotalsAndStartsSaga(t *testing.T) {
	f := newFixture(t)

	sale, created, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}
	if !created {
		t.Fatalf("expected a new sale")
	}
	if sale.Status != domain.SaleStatusPending {
		t.Fatalf("expected PENDING, got %s", sale.Status)
	}
	if sale.SubtotalMinor != 10000 || sale.TaxAmountMinor != 1925 || sale.TotalMinor != 11925 {
		t.Fatalf("unexpected totals: subtotal=%d tax=%d total=%d", sale.SubtotalMinor, sale.TaxAmountMinor, sale.TotalMinor)
	}
	if sale.SaleNumber != "VTE-20260831-0001" {
		t.Fatalf("unexpected sale number %s", sale.SaleNumber)
	}
	if sale.CorrelationID == "" {
		t.Fatalf("expected correlation id to be assigned")
	}

	pending, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != events.TypeSaleCreated {
		t.Fatalf("expected sale.created in outbox, got %+v", pending)
	}
	if pending[0].CorrelationID != sale.CorrelationID {
		t.Fatalf("expected outbox message keyed by saga correlation id")
	}

	env, err := events.Decode(pending[0].Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	payload, err := events.DecodePayload[events.SaleCreatedPayload](env)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.SaleID != sale.ID || payload.TotalMinor != 11925 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCreateSale_IdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first, created, err := f.service.CreateSale(context.Background(), saleInput("req-1"))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}
	if !created {
		t.Fatalf("expected first request to create the sale")
	}

	// Повтор с изменённым телом обязан вернуть исходную продажу.
	replay := saleInput("req-1")
	replay.Lines[0].Qty = 99
	second, created, err := f.service.CreateSale(context.Background(), replay)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if created {
		t.Fatalf("expected replay to return existing sale")
	}
	if second.ID != first.ID || second.TotalMinor != first.TotalMinor {
		t.Fatalf("expected the original sale back, got %+v", second)
	}

	pending, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected a single sale.created, got %d", len(pending))
	}
}

func TestCreateSale_ValidationAndUnknownCustomer(t *testing.T) {
	f := newFixture(t)

	input := saleInput("")
	input.CustomerID = "missing"
	if _, _, err := f.service.CreateSale(context.Background(), input); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	input = saleInput("")
	input.Lines[0].Qty = 0
	if _, _, err := f.service.CreateSale(context.Background(), input); !errors.Is(err, domain.ErrLineQtyInvalid) {
		t.Fatalf("expected ErrLineQtyInvalid, got %v", err)
	}

	input = saleInput("")
	input.Lines = nil
	if _, _, err := f.service.CreateSale(context.Background(), input); !errors.Is(err, domain.ErrLinesRequired) {
		t.Fatalf("expected ErrLinesRequired, got %v", err)
	}
}

func stockDecremented(t *testing.T, sale domain.Sale) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.TypeStockDecremented, "inventory-service", sale.CorrelationID, events.StockDecrementedPayload{
		ReferenceID: sale.ID,
		SaleID:      sale.ID,
		MovementIDs: []string{"mov-1"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func stockFailed(t *testing.T, sale domain.Sale, reason string) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.TypeStockFailed, "inventory-service", sale.CorrelationID, events.StockFailedPayload{
		ReferenceID: sale.ID,
		Reason:      reason,
		ProductID:   "prod-1",
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func TestHandleStockDecremented_ConfirmsSale(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	env := stockDecremented(t, sale)
	handler := f.guard.Wrap(f.service.HandleStockDecremented)
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	got, err := f.service.GetSale(sale.ID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	if got.Status != domain.SaleStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}

	// Повторная доставка того же события проглатывается без ошибки.
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("duplicate delivery failed: %v", err)
	}
}

func TestHandleStockDecremented_KeyedByReferenceID(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	// Исход без sale_id: обязательным полем остаётся reference_id.
	env, err := events.NewEnvelope(events.TypeStockDecremented, "inventory-service", sale.CorrelationID, events.StockDecrementedPayload{
		ReferenceID: sale.ID,
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	handler := f.guard.Wrap(f.service.HandleStockDecremented)
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	got, err := f.service.GetSale(sale.ID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	if got.Status != domain.SaleStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}
}

func TestHandleStockFailed_RejectsSale(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	handler := f.guard.Wrap(f.service.HandleStockFailed)
	if err := handler(context.Background(), stockFailed(t, sale, events.ReasonInsufficientStock)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	got, err := f.service.GetSale(sale.ID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	if got.Status != domain.SaleStatusRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}
}

func TestHandlers_IgnoreLateEventsAfterTerminalStatus(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	confirm := f.guard.Wrap(f.service.HandleStockDecremented)
	if err := confirm(context.Background(), stockDecremented(t, sale)); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	// Запоздавший отказ склада не должен перебить конечный статус.
	reject := f.guard.Wrap(f.service.HandleStockFailed)
	if err := reject(context.Background(), stockFailed(t, sale, events.ReasonProductNotFound)); err != nil {
		t.Fatalf("late stock.failed must be acknowledged, got %v", err)
	}

	got, err := f.service.GetSale(sale.ID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	if got.Status != domain.SaleStatusConfirmed {
		t.Fatalf("terminal status must be sticky, got %s", got.Status)
	}
}

func TestCancelSale(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	cancelled, err := f.service.CancelSale(sale.ID)
	if err != nil {
		t.Fatalf("CancelSale failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	if _, err := f.service.CancelSale(sale.ID); !errors.Is(err, domain.ErrSaleTerminal) {
		t.Fatalf("expected ErrSaleTerminal on repeated cancel, got %v", err)
	}
}

func TestHandleLedgerPosted_RecordsTimeline(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	env, err := events.NewEnvelope(events.TypeLedgerPosted, "accounting-service", sale.CorrelationID, events.LedgerPostedPayload{
		EntryID:       "entry-1",
		EntryType:     "VENTE",
		AmountMinor:   sale.TotalMinor,
		ReferenceType: "sale",
		ReferenceID:   sale.ID,
		FiscalMonth:   "2026-08",
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	handler := f.guard.Wrap(f.service.HandleLedgerPosted)
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	// Повторная доставка проглатывается отметкой об обработке.
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("duplicate delivery failed: %v", err)
	}

	timeline, err := f.service.SaleTimeline(sale.ID)
	if err != nil {
		t.Fatalf("SaleTimeline failed: %v", err)
	}
	posted := 0
	for _, event := range timeline {
		if event.Type == domain.TimelineLedgerPosted {
			posted++
		}
	}
	if posted != 1 {
		t.Fatalf("expected a single ledger_posted timeline event, got %d in %+v", posted, timeline)
	}
}

func TestSaleTimeline_TracksLifecycle(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}
	if _, err := f.service.CancelSale(sale.ID); err != nil {
		t.Fatalf("CancelSale failed: %v", err)
	}

	timeline, err := f.service.SaleTimeline(sale.ID)
	if err != nil {
		t.Fatalf("SaleTimeline failed: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 timeline events, got %+v", timeline)
	}
	if timeline[0].Type != domain.TimelineSaleCreated || timeline[1].Type != domain.TimelineSaleCancelled {
		t.Fatalf("unexpected timeline order: %+v", timeline)
	}
}

func TestRecordPayment_IdempotentReplay(t *testing.T) {
	f := newFixture(t)

	sale, _, err := f.service.CreateSale(context.Background(), saleInput(""))
	if err != nil {
		t.Fatalf("CreateSale failed: %v", err)
	}

	input := sales.RecordPaymentInput{
		SaleID:         sale.ID,
		Method:         domain.PaymentMethodMobileMoney,
		AmountMinor:    11925,
		IdempotencyKey: "pay-1",
		ProcessedBy:    "user-1",
	}

	first, created, err := f.service.RecordPayment(input)
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if !created {
		t.Fatalf("expected a new payment")
	}
	if first.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", first.Status)
	}
	if first.ReceiptNumber == "" {
		t.Fatalf("expected receipt number to be assigned")
	}

	second, created, err := f.service.RecordPayment(input)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the original payment back, got created=%v id=%s", created, second.ID)
	}

	if _, _, err := f.service.RecordPayment(sales.RecordPaymentInput{
		SaleID:      "missing",
		Method:      domain.PaymentMethodCash,
		AmountMinor: 100,
	}); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}
