package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в продаже.
	ErrLinesRequired = errors.New("sale must contain at least one line")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrLinePriceInvalid = errors.New("line unit price must be greater than zero")
	// Ошибка несоответствия суммы продажи и сумм позиций.
	ErrAmountMismatch = errors.New("sale totals do not match lines sum")
	// Ошибка отсутствующей даты продажи (формат YYYY-MM-DD).
	ErrSaleDateRequired = errors.New("sale_date is required")
	// ErrSaleNotFound возвращается, если продажа не найдена в репозитории.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyExists сигнализирует о конфликте при создании продажи.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrSaleTerminal возвращается при попытке перевести продажу из конечного статуса.
	ErrSaleTerminal = errors.New("sale is already in a terminal status")

	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerCodeTaken — код клиента уже занят.
	ErrCustomerCodeTaken = errors.New("customer code already exists")

	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// Ошибка не положительной суммы платежа.
	ErrPaymentAmountInvalid = errors.New("payment amount must be greater than zero")

	// ErrProductNotFound возвращается, если товар не найден на складе.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductCodeTaken — код товара уже занят.
	ErrProductCodeTaken = errors.New("product code already exists")
	// ErrInsufficientStock — бизнес-отказ: суммарный остаток меньше запрошенного количества.
	ErrInsufficientStock = errors.New("insufficient stock")
	// Ошибка нулевого количества в движении склада.
	ErrMovementQtyInvalid = errors.New("movement quantity must not be zero")
	// Ошибка неизвестного типа движения склада.
	ErrMovementTypeInvalid = errors.New("unknown movement type")

	// ErrAccountNotFound возвращается, если счёт плана счетов не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountCodeTaken — код счёта уже занят.
	ErrAccountCodeTaken = errors.New("account code already exists")
	// ErrEntryNotFound возвращается, если проводка не найдена.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrEntryAlreadyReversed — проводка уже сторнирована; повторное сторно запрещено.
	ErrEntryAlreadyReversed = errors.New("ledger entry already reversed")
	// Ошибка не положительной суммы проводки.
	ErrEntryAmountInvalid = errors.New("entry amount must be greater than zero")
	// ErrTaxRecordNotFound возвращается, если налоговая запись не найдена.
	ErrTaxRecordNotFound = errors.New("tax record not found")
	// Ошибка не положительной базы налогообложения.
	ErrTaxBaseInvalid = errors.New("tax base amount must be greater than zero")

	// ErrEventAlreadyProcessed сигнализирует о повторной доставке уже обработанного события.
	ErrEventAlreadyProcessed = errors.New("event already processed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsDuplicateDelivery проверяет, является ли ошибка повторной доставкой события.
func IsDuplicateDelivery(err error) bool {
	return errors.Is(err, ErrEventAlreadyProcessed)
}
