package domain

import "time"

// Delivery идентифицирует конкретную доставку события консьюмеру.
// Репозитории, принимающие Delivery, обязаны записать отметку об обработке
// в той же транзакции, что и побочный эффект: после восстановления процесса
// эффект остаётся ровно одним.
type Delivery struct {
	Consumer string
	EventID  string
}

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	// Create сохраняет новую продажу вместе с позициями и кладёт outbox-события
	// в той же транзакции: продажа без sale.created в outbox невозможна.
	Create(sale Sale, outbox []OutboxMessage) error
	// Get возвращает продажу по идентификатору или ErrSaleNotFound.
	Get(id string) (Sale, error)
	// GetByIdempotencyKey возвращает ранее созданную продажу по ключу запроса.
	GetByIdempotencyKey(key string) (Sale, error)
	// List возвращает продажи по фильтру, отсортированные по времени создания (новые первыми).
	List(filter SaleFilter) ([]Sale, error)
	// CountByNumberPrefix считает продажи с данным префиксом номера (нумерация в пределах дня).
	CountByNumberPrefix(prefix string) (int, error)
	// Transition атомарно переводит продажу из ожидаемого статуса в новый
	// и отмечает доставку (если delivery != nil) в той же транзакции.
	// Возвращает ErrSaleTerminal, если статус уже не from.
	Transition(id string, from, to SaleStatus, delivery *Delivery) error
}

// SaleFilter задаёт фильтры выборки продаж.
type SaleFilter struct {
	CustomerID string
	Status     SaleStatus
	FromDate   string
	ToDate     string
	Skip       int
	Limit      int
}

// CustomerRepository описывает хранилище клиентов.
type CustomerRepository interface {
	Create(customer Customer) error
	Get(id string) (Customer, error)
	GetByCode(code string) (Customer, error)
	List(activeOnly bool, skip, limit int) ([]Customer, error)
}

// PaymentRepository описывает хранилище платежей.
type PaymentRepository interface {
	// Create сохраняет платёж и outbox-события одной транзакцией.
	Create(payment Payment, outbox []OutboxMessage) error
	GetByIdempotencyKey(key string) (Payment, error)
	ListBySale(saleID string) ([]Payment, error)
}

// TimelineRepository — append-only хроника жизненного цикла продажи.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	// List возвращает события продажи в хронологическом порядке.
	List(saleID string) ([]TimelineEvent, error)
}

// ProductRepository описывает хранилище товаров.
type ProductRepository interface {
	Create(product Product) error
	Get(id string) (Product, error)
	GetByCode(code string) (Product, error)
	List(productType ProductType, activeOnly bool, skip, limit int) ([]Product, error)
}

// StockMovementRepository — append-only журнал движений склада.
type StockMovementRepository interface {
	// Append добавляет одно движение. Если движение с таким idempotency key
	// уже есть, возвращается существующая запись без вставки дубликата.
	Append(movement StockMovement) (StockMovement, error)
	// AppendBatch добавляет движения одной продажи атомарно, отмечает
	// доставку (если delivery != nil) и кладёт outbox-события в той же
	// транзакции. Повтор по idempotency key возвращает существующие записи.
	AppendBatch(movements []StockMovement, delivery *Delivery, outbox []OutboxMessage) ([]StockMovement, error)
	// List возвращает движения, новые первыми.
	List(productID string, movementType MovementType, skip, limit int) ([]StockMovement, error)
	// Level возвращает текущий остаток товара: сумма журнала, а не счётчик.
	Level(productID string) (int64, error)
}

// AccountRepository описывает план счетов.
type AccountRepository interface {
	Create(account Account) error
	Get(id string) (Account, error)
	GetByCode(code string) (Account, error)
	List(accountType AccountType, activeOnly bool, skip, limit int) ([]Account, error)
}

// LedgerRepository — append-only журнал двойных проводок.
type LedgerRepository interface {
	Create(entry LedgerEntry) (LedgerEntry, error)
	Get(id string) (LedgerEntry, error)
	List(filter LedgerFilter) ([]LedgerEntry, error)
	// Reverse атомарно вставляет сторнирующую проводку и выставляет
	// is_reversed у оригинала. Повторное сторно возвращает
	// ErrEntryAlreadyReversed.
	Reverse(originalID string, reversal LedgerEntry) (LedgerEntry, error)
}

// LedgerFilter задаёт фильтры выборки проводок.
type LedgerFilter struct {
	Type          EntryType
	FiscalMonth   string
	ReferenceType string
	ReferenceID   string
	Skip          int
	Limit         int
}

// TaxRepository — append-only журнал налоговых записей.
type TaxRepository interface {
	// Create вставляет запись, отмечает доставку (если delivery != nil)
	// и кладёт outbox-события в той же транзакции. Повтор по idempotency
	// key возвращает существующую запись.
	Create(record TaxRecord, delivery *Delivery, outbox []OutboxMessage) (TaxRecord, error)
	GetByIdempotencyKey(key string) (TaxRecord, error)
	List(taxType TaxType, fiscalMonth, referenceType string, skip, limit int) ([]TaxRecord, error)
	// MonthlyReport агрегирует налоги по месяцам фискального года.
	MonthlyReport(fiscalYear string) ([]MonthlyTVA, error)
}

// ProcessedEventRepository хранит отметки об обработанных событиях
// (дедупликация доставок на стороне консьюмера).
type ProcessedEventRepository interface {
	// MarkProcessed записывает отметку; повтор возвращает ErrEventAlreadyProcessed.
	MarkProcessed(consumer, eventID string, processedAt time.Time) error
	// Seen сообщает, была ли доставка уже обработана.
	Seen(consumer, eventID string) (bool, error)
	// DeleteExpired удаляет отметки старше before, не более limit за вызов.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит конверт события для отложенной публикации.
type OutboxMessage struct {
	ID            string
	EventType     string
	CorrelationID string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	// Enqueue сохраняет событие; при delivery != nil отметка об обработке
	// пишется в той же транзакции, повтор возвращает ErrEventAlreadyProcessed.
	Enqueue(msg OutboxMessage, delivery *Delivery) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(msg OutboxMessage) error
}
