package dedup_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

func newEnvelope(t *testing.T, eventType string) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(eventType, "test-producer", "corr-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func TestGuard_WrapSkipsSeenDeliveries(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	guard := dedup.NewGuard("sales-service", processed)

	env := newEnvelope(t, events.TypeStockDecremented)

	calls := 0
	handler := guard.Wrap(func(ctx context.Context, env events.Envelope) error {
		calls++
		return guard.Claim(env)
	})

	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestGuard_WrapTreatsDuplicateMarkAsSuccess(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	guard := dedup.NewGuard("inventory-service", processed)

	env := newEnvelope(t, events.TypeSaleCreated)

	// Отметка уже записана конкурентной доставкой: precheck Seen её не видел,
	// но транзакционная запись обработчика вернула дубликат.
	handler := guard.Wrap(func(ctx context.Context, env events.Envelope) error {
		if err := processed.MarkProcessed("inventory-service", env.EventID, env.OccurredAt); err != nil {
			return err
		}
		return domain.ErrEventAlreadyProcessed
	})

	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("expected duplicate mark to be swallowed, got %v", err)
	}
}

func TestGuard_WrapPropagatesHandlerErrors(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	guard := dedup.NewGuard("accounting-service", processed)

	env := newEnvelope(t, events.TypeSaleCreated)
	wantErr := errors.New("storage unavailable")

	handler := guard.Wrap(func(ctx context.Context, env events.Envelope) error {
		return wantErr
	})

	if err := handler(context.Background(), env); !errors.Is(err, wantErr) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}

	// Неуспешная доставка не должна оставить отметку: событие переиграется.
	seen, err := processed.Seen("accounting-service", env.EventID)
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Fatalf("failed delivery must not be marked processed")
	}
}

func TestGuard_ClaimRejectsRepeat(t *testing.T) {
	processed := memory.NewProcessedEventRepository()
	guard := dedup.NewGuard("sales-service", processed)

	env := newEnvelope(t, events.TypeStockFailed)

	if err := guard.Claim(env); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := guard.Claim(env); !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
}

func TestGuard_DeliveryToken(t *testing.T) {
	guard := dedup.NewGuard("sales-service", memory.NewProcessedEventRepository())

	env := newEnvelope(t, events.TypeStockDecremented)
	delivery := guard.Delivery(env)
	if delivery.Consumer != "sales-service" {
		t.Fatalf("expected consumer sales-service, got %s", delivery.Consumer)
	}
	if delivery.EventID != env.EventID {
		t.Fatalf("expected event id %s, got %s", env.EventID, delivery.EventID)
	}
}
