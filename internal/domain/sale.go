package domain

import "time"

// SaleStatus описывает жизненный цикл продажи в саге подтверждения.
type SaleStatus string

const (
	// SaleStatusPending — продажа создана, склад и бухгалтерия ещё не ответили.
	SaleStatusPending SaleStatus = "PENDING"
	// SaleStatusConfirmed — склад подтвердил списание, продажа финализирована.
	SaleStatusConfirmed SaleStatus = "CONFIRMED"
	// SaleStatusRejected — склад отказал (нет товара или остатка).
	SaleStatusRejected SaleStatus = "REJECTED"
	// SaleStatusCancelled — продажа отменена вне саги.
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// Terminal сообщает, является ли статус конечным. Конечные статусы «липкие»:
// никакое событие саги не выводит продажу из конечного статуса.
func (s SaleStatus) Terminal() bool {
	switch s {
	case SaleStatusConfirmed, SaleStatusRejected, SaleStatusCancelled:
		return true
	default:
		return false
	}
}

// StockOutcome — результат шага резервирования склада, пришедший событием.
type StockOutcome string

const (
	// StockOutcomeDecremented — движения склада созданы, остаток списан.
	StockOutcomeDecremented StockOutcome = "decremented"
	// StockOutcomeFailed — склад отказал; причина в событии.
	StockOutcomeFailed StockOutcome = "failed"
)

// NextStatus — чистая функция перехода машины состояний продажи.
// Возвращает новый статус и признак того, что переход применим.
// Из конечного статуса переходов нет: повторные и запоздавшие события
// должны логироваться и отбрасываться вызывающей стороной.
func NextStatus(current SaleStatus, outcome StockOutcome) (SaleStatus, bool) {
	if current != SaleStatusPending {
		return current, false
	}
	switch outcome {
	case StockOutcomeDecremented:
		return SaleStatusConfirmed, true
	case StockOutcomeFailed:
		return SaleStatusRejected, true
	default:
		return current, false
	}
}

// SaleLine — одна позиция продажи. Снимок данных каталога на момент
// создания: сервис продаж не владеет товарами и никогда не пересчитывает
// позиции по живому каталогу.
type SaleLine struct {
	ID          string
	ProductID   string
	ProductCode string
	ProductName string
	Qty         int64
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах (сантимы FCFA).
	UnitPriceMinor int64
	LineTotalMinor int64
	// TaxRateBps — ставка налога в сотых долях процента (1925 = 19.25%).
	TaxRateBps     int64
	TaxAmountMinor int64
}

// Sale агрегирует продажу и её позиции. Денежные суммы считаются один раз
// при создании и после этого не пересчитываются.
type Sale struct {
	ID         string
	SaleNumber string
	CustomerID string
	// SaleDate в формате YYYY-MM-DD.
	SaleDate string
	Status   SaleStatus
	// CorrelationID связывает все события одного экземпляра саги.
	CorrelationID string
	// IdempotencyKey — необязательный ключ дедупликации запроса создания.
	IdempotencyKey  string
	SubtotalMinor   int64
	TaxAmountMinor  int64
	TotalMinor      int64
	Notes           string
	DeliveryAddress string
	CreatedBy       string
	Lines           []SaleLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidateInvariants проверяет базовые инварианты продажи и возвращает список замечаний.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if s.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if s.SaleDate == "" {
		errs = append(errs, ErrSaleDateRequired)
	}
	if len(s.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	// Сверяем итоги продажи с суммами позиций.
	var subtotal, tax int64
	for _, line := range s.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor <= 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		subtotal += line.LineTotalMinor
		tax += line.TaxAmountMinor
	}
	if subtotal != s.SubtotalMinor || tax != s.TaxAmountMinor || s.SubtotalMinor+s.TaxAmountMinor != s.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Customer — клиент сервиса продаж.
type Customer struct {
	ID             string
	Code           string
	Name           string
	PhoneNumber    string
	Email          string
	Address        string
	CustomerType   string
	TaxID          string
	CreditLimit    int64
	CurrentBalance int64
	IsActive       bool
	CreatedAt      time.Time
}

// PaymentMethod задаёт способ оплаты продажи.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "ESPECES"
	PaymentMethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentMethodBankTransfer PaymentMethod = "VIREMENT"
	PaymentMethodCheque       PaymentMethod = "CHEQUE"
)

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Payment — платёж по продаже.
type Payment struct {
	ID          string
	SaleID      string
	PaymentDate string
	Method      PaymentMethod
	AmountMinor int64
	Status      PaymentStatus
	// TransactionReference — внешний идентификатор транзакции (Mobile Money и т.п.).
	TransactionReference string
	ReceiptNumber        string
	Notes                string
	ProcessedBy          string
	IdempotencyKey       string
	CreatedAt            time.Time
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	if p.SaleID == "" {
		errs = append(errs, ErrSaleNotFound)
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, ErrPaymentAmountInvalid)
	}

	return errs
}
