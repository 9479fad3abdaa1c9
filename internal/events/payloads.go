package events

// SaleLinePayload — позиция продажи в событии sale.created.
type SaleLinePayload struct {
	ProductID      string `json:"product_id"`
	ProductCode    string `json:"product_code,omitempty"`
	Qty            int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price"`
	LineTotalMinor int64  `json:"line_total"`
	TaxAmountMinor int64  `json:"tax_amount"`
}

// SaleCreatedPayload публикуется сервисом продаж при создании продажи
// и запускает сагу подтверждения.
type SaleCreatedPayload struct {
	SaleID      string            `json:"sale_id"`
	SaleNumber  string            `json:"sale_number"`
	CustomerID  string            `json:"customer_id"`
	SaleDate    string            `json:"sale_date"`
	TotalHT     int64             `json:"total_ht"`
	TotalMinor  int64             `json:"total_amount"`
	TaxMinor    int64             `json:"tax_amount"`
	Lines       []SaleLinePayload `json:"lines"`
}

// StockDecrementedPayload — успешный исход шага склада.
type StockDecrementedPayload struct {
	ReferenceID string   `json:"reference_id"`
	SaleID      string   `json:"sale_id"`
	MovementIDs []string `json:"movement_ids"`
}

// Коды причин отказа склада.
const (
	ReasonProductNotFound   = "product_not_found"
	ReasonInsufficientStock = "insufficient_stock"
)

// StockFailedPayload — отказ шага склада; терминальный исход для продажи.
type StockFailedPayload struct {
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
	ProductID   string `json:"product_id,omitempty"`
}

// StockMovementPayload публикуется при ручном движении склада (stock.<type>).
type StockMovementPayload struct {
	MovementID    string `json:"movement_id"`
	ProductID     string `json:"product_id"`
	Qty           int64  `json:"quantity"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
}

// TaxRecordedPayload публикуется бухгалтерией после записи налога.
type TaxRecordedPayload struct {
	TaxID         string `json:"tax_id"`
	TaxType       string `json:"tax_type"`
	BaseMinor     int64  `json:"base_amount"`
	TaxMinor      int64  `json:"tax_amount"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	FiscalMonth   string `json:"fiscal_month"`
}

// LedgerPostedPayload публикуется после вставки проводки.
type LedgerPostedPayload struct {
	EntryID       string `json:"entry_id"`
	EntryType     string `json:"entry_type"`
	AmountMinor   int64  `json:"amount"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	FiscalMonth   string `json:"fiscal_month"`
}

// PaymentRecordedPayload публикуется сервисом продаж при оплате.
type PaymentRecordedPayload struct {
	PaymentID   string `json:"payment_id"`
	SaleID      string `json:"sale_id"`
	AmountMinor int64  `json:"amount"`
	Method      string `json:"payment_method"`
	PaymentDate string `json:"payment_date"`
	Status      string `json:"status"`
}

// PurchaseReceivedPayload приходит из сервиса закупок фермы; бухгалтерия
// создаёт по нему запись TVA déductible.
type PurchaseReceivedPayload struct {
	PurchaseID   string `json:"purchase_id"`
	TotalHT      int64  `json:"total_ht"`
	PurchaseDate string `json:"purchase_date"`
}

// ProductCreatedPayload публикуется при создании товара.
type ProductCreatedPayload struct {
	ProductID string `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
}

// CustomerCreatedPayload публикуется при создании клиента.
type CustomerCreatedPayload struct {
	CustomerID string `json:"customer_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
}
