package domain

import (
	"fmt"
	"time"
)

// DefaultTaxRateBps — ставка TVA Камеруна в сотых долях процента (19.25%).
const DefaultTaxRateBps int64 = 1925

// ComputeTax считает налог по формуле base*rate/10000 с целочисленным
// усечением. Формула воспроизводится в точности: от неё зависит сверка
// с налоговыми записями, округление запрещено.
func ComputeTax(baseMinor, rateBps int64) int64 {
	return baseMinor * rateBps / 10000
}

// FiscalPeriod выводит строки фискального периода (YYYY-MM и YYYY)
// из даты операции в формате YYYY-MM-DD.
func FiscalPeriod(txDate string) (month, year string, err error) {
	t, err := time.Parse("2006-01-02", txDate)
	if err != nil {
		return "", "", fmt.Errorf("parse transaction date %q: %w", txDate, err)
	}
	return t.Format("2006-01"), t.Format("2006"), nil
}

// AccountType — тип счёта плана счетов.
type AccountType string

const (
	AccountTypeActif   AccountType = "ACTIF"
	AccountTypePassif  AccountType = "PASSIF"
	AccountTypeProduit AccountType = "PRODUIT"
	AccountTypeCharge  AccountType = "CHARGE"
)

// Account — счёт плана счетов.
type Account struct {
	ID              string
	Code            string
	Name            string
	Type            AccountType
	ParentAccountID string
	Description     string
	IsActive        bool
	CreatedAt       time.Time
}

// EntryType классифицирует проводки.
type EntryType string

const (
	EntryTypeVente    EntryType = "VENTE"
	EntryTypeAchat    EntryType = "ACHAT"
	EntryTypePaiement EntryType = "PAIEMENT"
	EntryTypeDivers   EntryType = "DIVERS"
)

// LedgerEntry — двойная проводка; журнал append-only. Исправления
// оформляются сторнирующей проводкой с обменом дебета и кредита,
// история никогда не переписывается.
type LedgerEntry struct {
	ID              string
	EntryDate       string
	Type            EntryType
	DebitAccountID  string
	CreditAccountID string
	AmountMinor     int64
	ReferenceType   string
	ReferenceID     string
	Description     string
	Notes           string
	FiscalMonth     string
	FiscalYear      string
	// IsReversed выставляется один раз; повторное сторно отклоняется.
	IsReversed bool
	// ReversesEntryID заполнено у сторнирующей проводки.
	ReversesEntryID string
	IdempotencyKey  string
	CreatedBy       string
	CreatedAt       time.Time
}

// Validate проверяет ключевые поля проводки.
func (e *LedgerEntry) Validate() []error {
	var errs []error

	if e.DebitAccountID == "" || e.CreditAccountID == "" {
		errs = append(errs, ErrAccountNotFound)
	}
	if e.AmountMinor <= 0 {
		errs = append(errs, ErrEntryAmountInvalid)
	}

	return errs
}

// Reversal строит сторнирующую проводку для e: дебет и кредит обменяны,
// сумма не меняется, ссылка на оригинал сохраняется.
func (e *LedgerEntry) Reversal(entryDate string, notes string) (LedgerEntry, error) {
	if e.IsReversed {
		return LedgerEntry{}, ErrEntryAlreadyReversed
	}
	month, year, err := FiscalPeriod(entryDate)
	if err != nil {
		return LedgerEntry{}, err
	}
	return LedgerEntry{
		EntryDate:       entryDate,
		Type:            e.Type,
		DebitAccountID:  e.CreditAccountID,
		CreditAccountID: e.DebitAccountID,
		AmountMinor:     e.AmountMinor,
		ReferenceType:   e.ReferenceType,
		ReferenceID:     e.ReferenceID,
		Description:     fmt.Sprintf("Reversal of entry %s", e.ID),
		Notes:           notes,
		FiscalMonth:     month,
		FiscalYear:      year,
		ReversesEntryID: e.ID,
	}, nil
}

// TaxType различает собранный и вычитаемый налог.
type TaxType string

const (
	// TaxTypeCollectee — TVA collectée: налог с продаж.
	TaxTypeCollectee TaxType = "tva_collectee"
	// TaxTypeDeductible — TVA déductible: налог с закупок.
	TaxTypeDeductible TaxType = "tva_deductible"
)

// TaxRecord — налоговая запись; журнал append-only.
type TaxRecord struct {
	ID              string
	Type            TaxType
	BaseAmountMinor int64
	RateBps         int64
	TaxAmountMinor  int64
	ReferenceType   string
	ReferenceID     string
	TransactionDate string
	FiscalMonth     string
	FiscalYear      string
	Description     string
	IdempotencyKey  string
	CreatedBy       string
	CreatedAt       time.Time
}

// MonthlyTVA — агрегат месячного отчёта TVA.
type MonthlyTVA struct {
	FiscalMonth     string
	CollecteeMinor  int64
	DeductibleMinor int64
	NetMinor        int64
	SalesCount      int
	PurchasesCount  int
}
