// Package accounting реализует сервис бухгалтерии: план счетов,
// append-only журнал двойных проводок и налоговые записи TVA.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/metrics"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
)

// ProducerName — имя сервиса в конвертах событий.
const ProducerName = "accounting-service"

// Коды счетов базового плана. Счета создаются при старте сервиса
// и используются обработчиками саги.
const (
	AccountCodeClients       = "411"
	AccountCodeFournisseurs  = "401"
	AccountCodeTVACollectee  = "4431"
	AccountCodeTVADeductible = "4452"
	AccountCodeAchats        = "601"
	AccountCodeVentes        = "701"
	AccountCodeCaisse        = "571"
)

// Service владеет планом счетов, журналом проводок и налоговыми записями.
type Service struct {
	accounts domain.AccountRepository
	ledger   domain.LedgerRepository
	taxes    domain.TaxRepository
	outbox   domain.OutboxRepository
	guard    *dedup.Guard
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис бухгалтерии.
func NewService(
	accounts domain.AccountRepository,
	ledger domain.LedgerRepository,
	taxes domain.TaxRepository,
	outbox domain.OutboxRepository,
	guard *dedup.Guard,
	sagaMetrics *metrics.SagaMetrics,
) *Service {
	return &Service{
		accounts: accounts,
		ledger:   ledger,
		taxes:    taxes,
		outbox:   outbox,
		guard:    guard,
		metrics:  sagaMetrics,
		logger:   log.WithField("component", "accounting-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureDefaultAccounts создаёт базовый план счетов, если счета ещё
// не существуют. Вызывается при старте сервиса.
func (s *Service) EnsureDefaultAccounts() error {
	defaults := []domain.Account{
		{Code: AccountCodeClients, Name: "Clients", Type: domain.AccountTypeActif},
		{Code: AccountCodeFournisseurs, Name: "Fournisseurs", Type: domain.AccountTypePassif},
		{Code: AccountCodeTVACollectee, Name: "TVA collectee", Type: domain.AccountTypePassif},
		{Code: AccountCodeTVADeductible, Name: "TVA deductible", Type: domain.AccountTypeActif},
		{Code: AccountCodeAchats, Name: "Achats", Type: domain.AccountTypeCharge},
		{Code: AccountCodeVentes, Name: "Ventes", Type: domain.AccountTypeProduit},
		{Code: AccountCodeCaisse, Name: "Caisse", Type: domain.AccountTypeActif},
	}

	for _, account := range defaults {
		if _, err := s.accounts.GetByCode(account.Code); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}

		account.ID = uuid.NewString()
		account.IsActive = true
		account.CreatedAt = s.now()
		if err := s.accounts.Create(account); err != nil {
			// Параллельный старт второго экземпляра мог создать счёт первым.
			if errors.Is(err, domain.ErrAccountCodeTaken) {
				continue
			}
			return fmt.Errorf("seed account %s: %w", account.Code, err)
		}
		s.logger.WithFields(log.Fields{
			"code": account.Code,
			"name": account.Name,
		}).Info("default account created")
	}
	return nil
}

// CreateAccountInput — входной запрос создания счёта.
type CreateAccountInput struct {
	Code            string
	Name            string
	Type            domain.AccountType
	ParentAccountID string
	Description     string
}

// CreateAccount добавляет счёт в план счетов.
func (s *Service) CreateAccount(input CreateAccountInput) (domain.Account, error) {
	account := domain.Account{
		ID:              uuid.NewString(),
		Code:            input.Code,
		Name:            input.Name,
		Type:            input.Type,
		ParentAccountID: input.ParentAccountID,
		Description:     input.Description,
		IsActive:        true,
		CreatedAt:       s.now(),
	}
	if err := s.accounts.Create(account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// GetAccount возвращает счёт по идентификатору.
func (s *Service) GetAccount(id string) (domain.Account, error) {
	return s.accounts.Get(id)
}

// ListAccounts возвращает счета плана счетов.
func (s *Service) ListAccounts(accountType domain.AccountType, activeOnly bool, skip, limit int) ([]domain.Account, error) {
	return s.accounts.List(accountType, activeOnly, skip, limit)
}

// PostEntryInput — входной запрос ручной проводки.
type PostEntryInput struct {
	EntryDate       string
	Type            domain.EntryType
	DebitAccountID  string
	CreditAccountID string
	AmountMinor     int64
	ReferenceType   string
	ReferenceID     string
	Description     string
	Notes           string
	IdempotencyKey  string
	CreatedBy       string
}

// PostEntry вставляет проводку в журнал. Фискальный период выводится
// из даты проводки и не принимается снаружи.
func (s *Service) PostEntry(input PostEntryInput) (domain.LedgerEntry, error) {
	if _, err := s.accounts.Get(input.DebitAccountID); err != nil {
		return domain.LedgerEntry{}, err
	}
	if _, err := s.accounts.Get(input.CreditAccountID); err != nil {
		return domain.LedgerEntry{}, err
	}

	month, year, err := domain.FiscalPeriod(input.EntryDate)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		EntryDate:       input.EntryDate,
		Type:            input.Type,
		DebitAccountID:  input.DebitAccountID,
		CreditAccountID: input.CreditAccountID,
		AmountMinor:     input.AmountMinor,
		ReferenceType:   input.ReferenceType,
		ReferenceID:     input.ReferenceID,
		Description:     input.Description,
		Notes:           input.Notes,
		FiscalMonth:     month,
		FiscalYear:      year,
		IdempotencyKey:  input.IdempotencyKey,
		CreatedBy:       input.CreatedBy,
	}
	if errs := entry.Validate(); len(errs) > 0 {
		return domain.LedgerEntry{}, errs[0]
	}

	inserted, err := s.ledger.Create(entry)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return inserted, nil
}

// GetEntry возвращает проводку по идентификатору.
func (s *Service) GetEntry(id string) (domain.LedgerEntry, error) {
	return s.ledger.Get(id)
}

// ListEntries возвращает проводки журнала.
func (s *Service) ListEntries(filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	return s.ledger.List(filter)
}

// ReverseEntry сторнирует проводку: вставляет обратную проводку с
// обменом дебета и кредита и помечает оригинал. Повторное сторно
// возвращает ErrEntryAlreadyReversed.
func (s *Service) ReverseEntry(entryID, entryDate, notes, createdBy string) (domain.LedgerEntry, error) {
	original, err := s.ledger.Get(entryID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	reversal, err := original.Reversal(entryDate, notes)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	reversal.CreatedBy = createdBy

	inserted, err := s.ledger.Reverse(original.ID, reversal)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	s.logger.WithFields(log.Fields{
		"entry_id":    original.ID,
		"reversal_id": inserted.ID,
	}).Info("ledger entry reversed")
	return inserted, nil
}

// ListTaxRecords возвращает налоговые записи.
func (s *Service) ListTaxRecords(taxType domain.TaxType, fiscalMonth, referenceType string, skip, limit int) ([]domain.TaxRecord, error) {
	return s.taxes.List(taxType, fiscalMonth, referenceType, skip, limit)
}

// MonthlyTVAReport агрегирует TVA по месяцам фискального года.
func (s *Service) MonthlyTVAReport(fiscalYear string) ([]domain.MonthlyTVA, error) {
	return s.taxes.MonthlyReport(fiscalYear)
}
