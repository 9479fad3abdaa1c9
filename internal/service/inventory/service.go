// Package inventory реализует сервис склада: каталог товаров, append-only
// журнал движений и шаг резервирования в саге подтверждения продажи.
package inventory

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
const ProducerName = "inventory-service"

// Service владеет каталогом товаров и журналом движений склада.
type Service struct {
	products  domain.ProductRepository
	movements domain.StockMovementRepository
	outbox    domain.OutboxRepository
	guard     *dedup.Guard
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис склада.
func NewService(
	products domain.ProductRepository,
	movements domain.StockMovementRepository,
	outbox domain.OutboxRepository,
	guard *dedup.Guard,
	sagaMetrics *metrics.SagaMetrics,
) *Service {
	return &Service{
		products:  products,
		movements: movements,
		outbox:    outbox,
		guard:     guard,
		metrics:   sagaMetrics,
		logger:    log.WithField("component", "inventory-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateProductInput — входной запрос создания товара.
type CreateProductInput struct {
	Code           string
	Name           string
	Description    string
	Type           domain.ProductType
	Unit           string
	MinStockLevel  int64
	MaxStockLevel  int64
	UnitCostMinor  int64
	UnitPriceMinor int64
}

// CreateProduct регистрирует товар и публикует product.created.
func (s *Service) CreateProduct(input CreateProductInput) (domain.Product, error) {
	product := domain.Product{
		ID:             uuid.NewString(),
		Code:           input.Code,
		Name:           input.Name,
		Description:    input.Description,
		Type:           input.Type,
		Unit:           input.Unit,
		MinStockLevel:  input.MinStockLevel,
		MaxStockLevel:  input.MaxStockLevel,
		UnitCostMinor:  input.UnitCostMinor,
		UnitPriceMinor: input.UnitPriceMinor,
		IsActive:       true,
		CreatedAt:      s.now(),
	}
	if product.Unit == "" {
		product.Unit = "unite"
	}

	if err := s.products.Create(product); err != nil {
		return domain.Product{}, err
	}

	if err := s.enqueue(events.TypeProductCreated, "", events.ProductCreatedPayload{
		ProductID: product.ID,
		Code:      product.Code,
		Name:      product.Name,
	}); err != nil {
		s.logger.WithError(err).WithField("product_id", product.ID).Warn("failed to enqueue product.created")
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"code":       product.Code,
	}).Info("product created")
	return product, nil
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(id string) (domain.Product, error) {
	return s.products.Get(id)
}

// ListProducts возвращает товары каталога.
func (s *Service) ListProducts(productType domain.ProductType, activeOnly bool, skip, limit int) ([]domain.Product, error) {
	return s.products.List(productType, activeOnly, skip, limit)
}

// RecordMovementInput — входной запрос ручного движения склада.
type RecordMovementInput struct {
	ProductID     string
	Type          domain.MovementType
	Qty           int64
	ReferenceType string
	ReferenceID   string
	Notes         string
	Location      string
	CreatedBy     string
}

// RecordMovement добавляет ручное движение склада. Количество задаётся
// положительным; знак определяется типом движения, кроме AJUSTEMENT,
// где знак задаёт вызывающая сторона.
func (s *Service) RecordMovement(input RecordMovementInput) (domain.StockMovement, error) {
	product, err := s.products.Get(input.ProductID)
	if err != nil {
		return domain.StockMovement{}, err
	}

	qty := input.Qty
	switch input.Type {
	case domain.MovementTypeEntree:
		if qty < 0 {
			qty = -qty
		}
	case domain.MovementTypeSortie:
		if qty < 0 {
			qty = -qty
		}
		level, err := s.movements.Level(product.ID)
		if err != nil {
			return domain.StockMovement{}, err
		}
		if level < qty {
			return domain.StockMovement{}, fmt.Errorf("%w: product %s has %d, requested %d",
				domain.ErrInsufficientStock, product.Code, level, qty)
		}
		qty = -qty
	case domain.MovementTypeAjustement:
		// знак как есть
	default:
		return domain.StockMovement{}, domain.ErrMovementTypeInvalid
	}

	movement := domain.StockMovement{
		ID:            uuid.NewString(),
		ProductID:     product.ID,
		Type:          input.Type,
		Qty:           qty,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		Location:      input.Location,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     s.now(),
	}
	if errs := movement.Validate(); len(errs) > 0 {
		return domain.StockMovement{}, errs[0]
	}

	inserted, err := s.movements.Append(movement)
	if err != nil {
		return domain.StockMovement{}, err
	}

	if err := s.enqueue("stock."+string(movement.Type), "", events.StockMovementPayload{
		MovementID:    inserted.ID,
		ProductID:     inserted.ProductID,
		Qty:           inserted.Qty,
		ReferenceType: inserted.ReferenceType,
		ReferenceID:   inserted.ReferenceID,
	}); err != nil {
		s.logger.WithError(err).WithField("movement_id", inserted.ID).Warn("failed to enqueue stock movement event")
	}

	return inserted, nil
}

// ListMovements возвращает журнал движений.
func (s *Service) ListMovements(productID string, movementType domain.MovementType, skip, limit int) ([]domain.StockMovement, error) {
	return s.movements.List(productID, movementType, skip, limit)
}

// StockLevel возвращает остаток товара с признаком падения ниже минимума.
func (s *Service) StockLevel(productID string) (domain.StockLevel, error) {
	product, err := s.products.Get(productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	level, err := s.movements.Level(productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{
		ProductID:      product.ID,
		ProductCode:    product.Code,
		ProductName:    product.Name,
		Unit:           product.Unit,
		CurrentStock:   level,
		MinStockLevel:  product.MinStockLevel,
		IsBelowMinimum: level < product.MinStockLevel,
	}, nil
}

// ListStockLevels возвращает остатки по всему каталогу.
func (s *Service) ListStockLevels(activeOnly bool, skip, limit int) ([]domain.StockLevel, error) {
	products, err := s.products.List("", activeOnly, skip, limit)
	if err != nil {
		return nil, err
	}
	levels := make([]domain.StockLevel, 0, len(products))
	for _, product := range products {
		level, err := s.movements.Level(product.ID)
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.StockLevel{
			ProductID:      product.ID,
			ProductCode:    product.Code,
			ProductName:    product.Name,
			Unit:           product.Unit,
			CurrentStock:   level,
			MinStockLevel:  product.MinStockLevel,
			IsBelowMinimum: level < product.MinStockLevel,
		})
	}
	return levels, nil
}

// HandleSaleCreated — шаг резервирования: проверяет ВСЕ позиции до первого
// движения и либо списывает всё, либо не списывает ничего.
func (s *Service) HandleSaleCreated(ctx context.Context, env events.Envelope) error {
	started := s.now()
	payload, err := events.DecodePayload[events.SaleCreatedPayload](env)
	if err != nil {
		return err
	}

	logger := s.logger.WithFields(log.Fields{
		"sale_id":        payload.SaleID,
		"correlation_id": env.CorrelationID,
	})

	// Фаза проверки: ни одного движения, пока не проверены все позиции.
	if failure, checkErr := s.validateLines(payload); checkErr != nil {
		return checkErr
	} else if failure != nil {
		msg, buildErr := buildMessage(events.TypeStockFailed, env.CorrelationID, *failure)
		if buildErr != nil {
			return buildErr
		}
		// Отказ не пишет движений: отметка об обработке и публикация
		// исхода фиксируются одной транзакцией.
		if _, err := s.outbox.Enqueue(msg, s.guard.Delivery(env)); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordStockFailure(failure.Reason)
		}
		logger.WithFields(log.Fields{
			"reason":     failure.Reason,
			"product_id": failure.ProductID,
		}).Warn("stock reservation failed")
		return nil
	}

	movements := s.buildSaleMovements(payload)
	movementIDs := make([]string, 0, len(movements))
	for _, movement := range movements {
		movementIDs = append(movementIDs, movement.ID)
	}

	msg, err := buildMessage(events.TypeStockDecremented, env.CorrelationID, events.StockDecrementedPayload{
		ReferenceID: payload.SaleID,
		SaleID:      payload.SaleID,
		MovementIDs: movementIDs,
	})
	if err != nil {
		return err
	}

	// Списание, отметка доставки и stock.decremented фиксируются одной
	// транзакцией: закоммиченное движение без исхода в outbox невозможно.
	// Повторную доставку репозиторий возвращает как ErrEventAlreadyProcessed.
	if _, err := s.movements.AppendBatch(movements, s.guard.Delivery(env), []domain.OutboxMessage{msg}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordHandlerDuration("sale_created_stock", s.now().Sub(started))
	}
	logger.WithField("movements", len(movementIDs)).Info("stock decremented for sale")
	return nil
}

// validateLines проверяет все позиции продажи. Возвращает описание отказа
// для первой непроходящей позиции либо nil, если всё списываемо.
func (s *Service) validateLines(payload events.SaleCreatedPayload) (*events.StockFailedPayload, error) {
	for _, line := range payload.Lines {
		product, err := s.products.Get(line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return &events.StockFailedPayload{
					ReferenceID: payload.SaleID,
					Reason:      events.ReasonProductNotFound,
					ProductID:   line.ProductID,
				}, nil
			}
			return nil, err
		}

		level, err := s.movements.Level(product.ID)
		if err != nil {
			return nil, err
		}
		if level < line.Qty {
			return &events.StockFailedPayload{
				ReferenceID: payload.SaleID,
				Reason:      events.ReasonInsufficientStock,
				ProductID:   product.ID,
			}, nil
		}
	}
	return nil, nil
}

func (s *Service) buildSaleMovements(payload events.SaleCreatedPayload) []domain.StockMovement {
	now := s.now()
	movements := make([]domain.StockMovement, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		key := fmt.Sprintf("sale_%s_%s", payload.SaleID, line.ProductID)
		movements = append(movements, domain.StockMovement{
			// ID детерминирован по ключу идемпотентности: повторная
			// доставка собирает исход с теми же движениями.
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
			ProductID:      line.ProductID,
			Type:           domain.MovementTypeSortie,
			Qty:            -line.Qty,
			ReferenceType:  "sale",
			ReferenceID:    payload.SaleID,
			Notes:          "Vente " + payload.SaleNumber,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	}
	return movements
}

// buildMessage собирает конверт события в outbox-сообщение, не кладя его
// в очередь.
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

// Register подписывает обработчики на шину, оборачивая их дедупликацией.
func (s *Service) Register(bus events.Bus) {
	bus.Subscribe(events.TypeSaleCreated, s.guard.Wrap(s.HandleSaleCreated))
}
