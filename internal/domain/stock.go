package domain

import "time"

// ProductType классифицирует товары агроплатформы.
type ProductType string

const (
	ProductTypeIntrant     ProductType = "INTRANT"
	ProductTypeRecolte     ProductType = "RECOLTE"
	ProductTypeEquipement  ProductType = "EQUIPEMENT"
	ProductTypeConsommable ProductType = "CONSOMMABLE"
)

// Product — карточка товара, принадлежит сервису склада.
type Product struct {
	ID             string
	Code           string
	Name           string
	Description    string
	Type           ProductType
	Unit           string
	MinStockLevel  int64
	MaxStockLevel  int64
	UnitCostMinor  int64
	UnitPriceMinor int64
	IsActive       bool
	CreatedAt      time.Time
}

// MovementType задаёт направление движения склада.
type MovementType string

const (
	// MovementTypeEntree — приход на склад.
	MovementTypeEntree MovementType = "ENTREE"
	// MovementTypeSortie — расход со склада (количество отрицательное).
	MovementTypeSortie MovementType = "SORTIE"
	// MovementTypeAjustement — ручная корректировка остатка.
	// Отдельного примитива сторнирования для движений нет: исправления
	// всегда оформляются новым движением этого типа.
	MovementTypeAjustement MovementType = "AJUSTEMENT"
)

// StockMovement — одна запись append-only журнала склада. Записи никогда
// не изменяются и не удаляются; остаток — это сумма журнала.
type StockMovement struct {
	ID        string
	ProductID string
	Type      MovementType
	// Qty со знаком: приход положительный, расход отрицательный.
	Qty           int64
	ReferenceType string
	ReferenceID   string
	Notes         string
	Location      string
	// IdempotencyKey защищает от двойного списания при повторной доставке
	// события: уникален в рамках (reference_type, reference_id, product_id).
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// Validate проверяет ключевые поля движения склада.
func (m *StockMovement) Validate() []error {
	var errs []error

	if m.ProductID == "" {
		errs = append(errs, ErrProductNotFound)
	}
	if m.Qty == 0 {
		errs = append(errs, ErrMovementQtyInvalid)
	}

	return errs
}

// StockLevel — материализованный ответ «текущий остаток товара».
type StockLevel struct {
	ProductID      string
	ProductCode    string
	ProductName    string
	Unit           string
	CurrentStock   int64
	MinStockLevel  int64
	IsBelowMinimum bool
}
