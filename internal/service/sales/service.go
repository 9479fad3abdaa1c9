// Package sales реализует сервис продаж: создание продажи запускает сагу
// подтверждения, события склада завершают её.
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
	"github.com/vladislavdragonenkov/agroms/internal/metrics"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
)

// ProducerName — имя сервиса в конвертах событий.
const ProducerName = "sales-service"

// Service владеет продажами, клиентами и платежами.
type Service struct {
	sales     domain.SaleRepository
	customers domain.CustomerRepository
	payments  domain.PaymentRepository
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	guard     *dedup.Guard
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис продаж. timeline может быть nil, тогда хроника
// продаж не ведётся.
func NewService(
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	payments domain.PaymentRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	guard *dedup.Guard,
	sagaMetrics *metrics.SagaMetrics,
) *Service {
	return &Service{
		sales:     sales,
		customers: customers,
		payments:  payments,
		timeline:  timeline,
		outbox:    outbox,
		guard:     guard,
		metrics:   sagaMetrics,
		logger:    log.WithField("component", "sales-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSaleLineInput — позиция продажи во входном запросе.
type CreateSaleLineInput struct {
	ProductID      string
	ProductCode    string
	ProductName    string
	Qty            int64
	UnitPriceMinor int64
	// TaxRateBps — ставка налога; 0 означает ставку по умолчанию.
	TaxRateBps int64
}

// CreateSaleInput — входной запрос создания продажи.
type CreateSaleInput struct {
	CustomerID      string
	SaleDate        string
	IdempotencyKey  string
	Notes           string
	DeliveryAddress string
	CreatedBy       string
	Lines           []CreateSaleLineInput
}

// CreateSale создаёт продажу в статусе PENDING и публикует sale.created
// через transactional outbox. Повтор запроса с тем же ключом идемпотентности
// возвращает ранее созданную продажу: тело повторного запроса игнорируется.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (domain.Sale, bool, error) {
	if input.IdempotencyKey != "" {
		existing, err := s.sales.GetByIdempotencyKey(input.IdempotencyKey)
		if err == nil {
			s.logger.WithFields(log.Fields{
				"sale_id":         existing.ID,
				"idempotency_key": input.IdempotencyKey,
			}).Info("idempotent replay, returning existing sale")
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrSaleNotFound) {
			return domain.Sale{}, false, err
		}
	}

	if _, err := s.customers.Get(input.CustomerID); err != nil {
		return domain.Sale{}, false, err
	}

	sale, err := s.buildSale(input)
	if err != nil {
		return domain.Sale{}, false, err
	}

	msg, err := s.saleCreatedMessage(sale)
	if err != nil {
		return domain.Sale{}, false, err
	}

	// Продажа и sale.created пишутся одной транзакцией: либо сага
	// стартует, либо продажи нет и клиент повторяет запрос.
	if err := s.sales.Create(sale, []domain.OutboxMessage{msg}); err != nil {
		// Гонка двух запросов с одним ключом: проигравший возвращает
		// продажу победителя.
		if errors.Is(err, domain.ErrSaleAlreadyExists) && input.IdempotencyKey != "" {
			existing, getErr := s.sales.GetByIdempotencyKey(input.IdempotencyKey)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return domain.Sale{}, false, err
	}

	s.recordTimeline(sale.ID, domain.TimelineSaleCreated, "")

	if s.metrics != nil {
		s.metrics.RecordSaleCreated()
	}
	s.logger.WithFields(log.Fields{
		"sale_id":        sale.ID,
		"sale_number":    sale.SaleNumber,
		"correlation_id": sale.CorrelationID,
		"total_minor":    sale.TotalMinor,
	}).Info("sale created, saga started")

	return sale, true, nil
}

func (s *Service) buildSale(input CreateSaleInput) (domain.Sale, error) {
	now := s.now()
	saleDate := input.SaleDate
	if saleDate == "" {
		saleDate = now.Format("2006-01-02")
	}

	sale := domain.Sale{
		ID:              uuid.NewString(),
		CustomerID:      input.CustomerID,
		SaleDate:        saleDate,
		Status:          domain.SaleStatusPending,
		CorrelationID:   uuid.NewString(),
		IdempotencyKey:  input.IdempotencyKey,
		Notes:           input.Notes,
		DeliveryAddress: input.DeliveryAddress,
		CreatedBy:       input.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, line := range input.Lines {
		rate := line.TaxRateBps
		if rate == 0 {
			rate = domain.DefaultTaxRateBps
		}
		lineTotal := line.Qty * line.UnitPriceMinor
		saleLine := domain.SaleLine{
			ID:             uuid.NewString(),
			ProductID:      line.ProductID,
			ProductCode:    line.ProductCode,
			ProductName:    line.ProductName,
			Qty:            line.Qty,
			UnitPriceMinor: line.UnitPriceMinor,
			LineTotalMinor: lineTotal,
			TaxRateBps:     rate,
			TaxAmountMinor: domain.ComputeTax(lineTotal, rate),
		}
		sale.Lines = append(sale.Lines, saleLine)
		sale.SubtotalMinor += saleLine.LineTotalMinor
		sale.TaxAmountMinor += saleLine.TaxAmountMinor
	}
	sale.TotalMinor = sale.SubtotalMinor + sale.TaxAmountMinor

	if errs := sale.ValidateInvariants(); len(errs) > 0 {
		return domain.Sale{}, errs[0]
	}

	number, err := s.nextSaleNumber(saleDate)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.SaleNumber = number

	return sale, nil
}

// nextSaleNumber выдаёт номер вида VTE-YYYYMMDD-NNNN со сквозной нумерацией
// в пределах дня.
func (s *Service) nextSaleNumber(saleDate string) (string, error) {
	day, err := time.Parse("2006-01-02", saleDate)
	if err != nil {
		return "", fmt.Errorf("parse sale date %q: %w", saleDate, err)
	}
	prefix := "VTE-" + day.Format("20060102") + "-"
	count, err := s.sales.CountByNumberPrefix(prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

func (s *Service) saleCreatedMessage(sale domain.Sale) (domain.OutboxMessage, error) {
	payload := events.SaleCreatedPayload{
		SaleID:     sale.ID,
		SaleNumber: sale.SaleNumber,
		CustomerID: sale.CustomerID,
		SaleDate:   sale.SaleDate,
		TotalHT:    sale.SubtotalMinor,
		TotalMinor: sale.TotalMinor,
		TaxMinor:   sale.TaxAmountMinor,
	}
	for _, line := range sale.Lines {
		payload.Lines = append(payload.Lines, events.SaleLinePayload{
			ProductID:      line.ProductID,
			ProductCode:    line.ProductCode,
			Qty:            line.Qty,
			UnitPriceMinor: line.UnitPriceMinor,
			LineTotalMinor: line.LineTotalMinor,
			TaxAmountMinor: line.TaxAmountMinor,
		})
	}
	return buildMessage(events.TypeSaleCreated, sale.CorrelationID, payload)
}

// buildMessage собирает конверт события в outbox-сообщение, не кладя его
// в очередь: вставкой владеет репозиторий бизнес-сущности.
func buildMessage(eventType, correlationID string, payload any) (domain.OutboxMessage, error) {
	env, err := events.NewEnvelope(eventType, ProducerName, correlationID, payload)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	data, err := env.Encode()
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		EventType:     env.EventType,
		CorrelationID: env.CorrelationID,
		Payload:       data,
	}, nil
}

func (s *Service) enqueue(eventType, correlationID string, payload any) error {
	msg, err := buildMessage(eventType, correlationID, payload)
	if err != nil {
		return err
	}
	_, err = s.outbox.Enqueue(msg, nil)
	return err
}

// recordTimeline пишет запись в хронику продажи; ошибка не прерывает
// основную операцию.
func (s *Service) recordTimeline(saleID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(domain.TimelineEvent{
		SaleID:   saleID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("sale_id", saleID).Warn("failed to append timeline event")
	}
}

// SaleTimeline возвращает хронику жизненного цикла продажи.
func (s *Service) SaleTimeline(id string) ([]domain.TimelineEvent, error) {
	if _, err := s.sales.Get(id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(id)
}

// GetSale возвращает продажу по идентификатору.
func (s *Service) GetSale(id string) (domain.Sale, error) {
	return s.sales.Get(id)
}

// ListSales возвращает продажи по фильтру.
func (s *Service) ListSales(filter domain.SaleFilter) ([]domain.Sale, error) {
	return s.sales.List(filter)
}

// CancelSale отменяет продажу, ещё не завершившую сагу.
func (s *Service) CancelSale(id string) (domain.Sale, error) {
	err := s.sales.Transition(id, domain.SaleStatusPending, domain.SaleStatusCancelled, nil)
	if err != nil {
		return domain.Sale{}, err
	}
	s.recordTimeline(id, domain.TimelineSaleCancelled, "")
	if s.metrics != nil {
		s.metrics.RecordSaleRejected()
	}
	return s.sales.Get(id)
}

// HandleStockDecremented завершает сагу подтверждением: PENDING -> CONFIRMED.
// Переход и отметка доставки пишутся одной транзакцией.
func (s *Service) HandleStockDecremented(ctx context.Context, env events.Envelope) error {
	started := s.now()
	payload, err := events.DecodePayload[events.StockDecrementedPayload](env)
	if err != nil {
		return err
	}

	// reference_id — обязательное поле исхода; sale_id дублирует его
	// и остаётся запасным для старых продюсеров.
	saleID := payload.ReferenceID
	if saleID == "" {
		saleID = payload.SaleID
	}
	sale, err := s.sales.Get(saleID)
	if err != nil {
		return err
	}

	next, applied := domain.NextStatus(sale.Status, domain.StockOutcomeDecremented)
	if !applied {
		// Конечный статус «липкий»: запоздавшее событие логируется и отбрасывается.
		s.logger.WithFields(log.Fields{
			"sale_id":  sale.ID,
			"status":   sale.Status,
			"event_id": env.EventID,
		}).Warn("stock.decremented ignored, sale is not pending")
		return s.guard.Claim(env)
	}

	if err := s.sales.Transition(sale.ID, sale.Status, next, s.guard.Delivery(env)); err != nil {
		return err
	}

	s.recordTimeline(sale.ID, domain.TimelineSaleConfirmed, "")

	if s.metrics != nil {
		s.metrics.RecordSaleConfirmed()
		s.metrics.RecordHandlerDuration("stock_decremented", s.now().Sub(started))
	}
	s.logger.WithFields(log.Fields{
		"sale_id":        sale.ID,
		"correlation_id": env.CorrelationID,
	}).Info("sale confirmed")
	return nil
}

// HandleStockFailed завершает сагу отказом: PENDING -> REJECTED.
func (s *Service) HandleStockFailed(ctx context.Context, env events.Envelope) error {
	started := s.now()
	payload, err := events.DecodePayload[events.StockFailedPayload](env)
	if err != nil {
		return err
	}

	saleID := payload.ReferenceID
	sale, err := s.sales.Get(saleID)
	if err != nil {
		return err
	}

	next, applied := domain.NextStatus(sale.Status, domain.StockOutcomeFailed)
	if !applied {
		s.logger.WithFields(log.Fields{
			"sale_id":  sale.ID,
			"status":   sale.Status,
			"event_id": env.EventID,
		}).Warn("stock.failed ignored, sale is not pending")
		return s.guard.Claim(env)
	}

	if err := s.sales.Transition(sale.ID, sale.Status, next, s.guard.Delivery(env)); err != nil {
		return err
	}

	s.recordTimeline(sale.ID, domain.TimelineSaleRejected, payload.Reason)

	if s.metrics != nil {
		s.metrics.RecordSaleRejected()
		s.metrics.RecordStockFailure(payload.Reason)
		s.metrics.RecordHandlerDuration("stock_failed", s.now().Sub(started))
	}
	s.logger.WithFields(log.Fields{
		"sale_id":        sale.ID,
		"reason":         payload.Reason,
		"product_id":     payload.ProductID,
		"correlation_id": env.CorrelationID,
	}).Info("sale rejected")
	return nil
}

// HandleLedgerPosted фиксирует проводку бухгалтерии в хронике продажи.
// Бизнес-эффекта не имеет: это аудит закрытия финансового следа саги.
func (s *Service) HandleLedgerPosted(ctx context.Context, env events.Envelope) error {
	payload, err := events.DecodePayload[events.LedgerPostedPayload](env)
	if err != nil {
		return err
	}

	if payload.ReferenceType == "sale" && payload.ReferenceID != "" {
		s.recordTimeline(payload.ReferenceID, domain.TimelineLedgerPosted, payload.EntryType)
	}

	s.logger.WithFields(log.Fields{
		"entry_id":       payload.EntryID,
		"entry_type":     payload.EntryType,
		"amount_minor":   payload.AmountMinor,
		"reference_type": payload.ReferenceType,
		"reference_id":   payload.ReferenceID,
		"correlation_id": env.CorrelationID,
	}).Info("ledger entry posted")
	return s.guard.Claim(env)
}

// Register подписывает обработчики саги на шину, оборачивая их дедупликацией.
func (s *Service) Register(bus events.Bus) {
	bus.Subscribe(events.TypeStockDecremented, s.guard.Wrap(s.HandleStockDecremented))
	bus.Subscribe(events.TypeStockFailed, s.guard.Wrap(s.HandleStockFailed))
	bus.Subscribe(events.TypeLedgerPosted, s.guard.Wrap(s.HandleLedgerPosted))
}
