package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий. Routing key шины равен типу события.
const (
	TypeSaleCreated      = "sale.created"
	TypeStockDecremented = "stock.decremented"
	TypeStockFailed      = "stock.failed"
	TypeStockEntree      = "stock.ENTREE"
	TypeStockSortie      = "stock.SORTIE"
	TypeStockAjustement  = "stock.AJUSTEMENT"
	TypeTaxCollectee     = "tax.tva_collectee"
	TypeTaxDeductible    = "tax.tva_deductible"
	TypeLedgerPosted     = "ledger.posted"
	TypePaymentRecorded  = "payment.recorded"
	TypePurchaseReceived = "purchase.received"
	TypeProductCreated   = "product.created"
	TypeCustomerCreated  = "customer.created"
)

// Envelope — неизменяемый конверт доменного события, один на публикацию.
// event_id никогда не переиспользуется; correlation_id стабилен в пределах
// одного экземпляра саги (одной продажи).
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Producer       string          `json:"producer"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope собирает конверт с новым event_id. Пустой correlationID
// означает начало новой бизнес-транзакции: он генерируется здесь.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       data,
	}, nil
}

// WithIdempotencyKey возвращает копию конверта с ключом дедупликации запроса.
func (e Envelope) WithIdempotencyKey(key string) Envelope {
	e.IdempotencyKey = key
	return e
}

// Encode сериализует конверт для передачи по шине.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode разбирает конверт из сырого сообщения шины.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return Envelope{}, fmt.Errorf("event envelope missing event_id or event_type")
	}
	return env, nil
}

// DecodePayload разбирает полезную нагрузку конверта в типизированную структуру.
func DecodePayload[T any](env Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", env.EventType, err)
	}
	return payload, nil
}

// Handler обрабатывает доставленный конверт. Ошибка означает negative
// acknowledgment: шина обязана доставить сообщение повторно.
type Handler func(ctx context.Context, env Envelope) error

// Bus — транспортно-независимый контракт шины событий: topic-based
// publish/subscribe, durable-подписка по типам событий, at-least-once
// доставка без глобального порядка между типами.
type Bus interface {
	Publisher
	// Subscribe привязывает обработчик к типу события. Вызывается до Run.
	Subscribe(eventType string, handler Handler)
	// Run запускает цикл потребления до отмены ctx.
	Run(ctx context.Context) error
}

// Publisher публикует конверты в шину.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
