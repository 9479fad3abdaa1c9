package accounting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
)

// HandleSaleCreated проводит продажу в журнале и создаёт запись TVA
// collectée. Проводка идемпотентна по ключу, налоговая запись пишется
// вместе с отметкой о доставке, поэтому повторная доставка безопасна
// на любом шаге.
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

	entry, err := s.postReferencedEntry(postReferencedEntryInput{
		entryDate:      payload.SaleDate,
		entryType:      domain.EntryTypeVente,
		debitCode:      AccountCodeClients,
		creditCode:     AccountCodeVentes,
		amountMinor:    payload.TotalMinor,
		referenceType:  "sale",
		referenceID:    payload.SaleID,
		description:    "Vente " + payload.SaleNumber,
		idempotencyKey: fmt.Sprintf("sale_%s_entry", payload.SaleID),
	})
	if err != nil {
		return err
	}

	record := domain.TaxRecord{
		Type:            domain.TaxTypeCollectee,
		BaseAmountMinor: payload.TotalHT,
		RateBps:         domain.DefaultTaxRateBps,
		TaxAmountMinor:  domain.ComputeTax(payload.TotalHT, domain.DefaultTaxRateBps),
		ReferenceType:   "sale",
		ReferenceID:     payload.SaleID,
		TransactionDate: payload.SaleDate,
		Description:     "TVA collectee sur vente " + payload.SaleNumber,
		IdempotencyKey:  fmt.Sprintf("sale_%s_tva", payload.SaleID),
	}
	record.FiscalMonth, record.FiscalYear, err = domain.FiscalPeriod(payload.SaleDate)
	if err != nil {
		return err
	}
	record.ID = uuid.NewString()
	record.CreatedAt = s.now()

	msgs, err := s.taxMessages(env.CorrelationID, entry, record, events.TypeTaxCollectee)
	if err != nil {
		return err
	}

	// Налоговая запись, отметка доставки и оба события пишутся одной
	// транзакцией; повтор по ключу не кладёт события второй раз.
	inserted, err := s.taxes.Create(record, s.guard.Delivery(env), msgs)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordTaxRecorded()
		s.metrics.RecordHandlerDuration("sale_created_accounting", s.now().Sub(started))
	}
	logger.WithFields(log.Fields{
		"entry_id": entry.ID,
		"tax_id":   inserted.ID,
	}).Info("sale posted to ledger")
	return nil
}

// HandlePurchaseReceived проводит закупку и создаёт запись TVA déductible.
func (s *Service) HandlePurchaseReceived(ctx context.Context, env events.Envelope) error {
	payload, err := events.DecodePayload[events.PurchaseReceivedPayload](env)
	if err != nil {
		return err
	}

	logger := s.logger.WithFields(log.Fields{
		"purchase_id":    payload.PurchaseID,
		"correlation_id": env.CorrelationID,
	})

	entry, err := s.postReferencedEntry(postReferencedEntryInput{
		entryDate:      payload.PurchaseDate,
		entryType:      domain.EntryTypeAchat,
		debitCode:      AccountCodeAchats,
		creditCode:     AccountCodeFournisseurs,
		amountMinor:    payload.TotalHT,
		referenceType:  "purchase",
		referenceID:    payload.PurchaseID,
		description:    "Achat " + payload.PurchaseID,
		idempotencyKey: fmt.Sprintf("purchase_%s_entry", payload.PurchaseID),
	})
	if err != nil {
		return err
	}

	record := domain.TaxRecord{
		Type:            domain.TaxTypeDeductible,
		BaseAmountMinor: payload.TotalHT,
		RateBps:         domain.DefaultTaxRateBps,
		TaxAmountMinor:  domain.ComputeTax(payload.TotalHT, domain.DefaultTaxRateBps),
		ReferenceType:   "purchase",
		ReferenceID:     payload.PurchaseID,
		TransactionDate: payload.PurchaseDate,
		Description:     "TVA deductible sur achat " + payload.PurchaseID,
		IdempotencyKey:  fmt.Sprintf("purchase_%s_tva", payload.PurchaseID),
	}
	record.FiscalMonth, record.FiscalYear, err = domain.FiscalPeriod(payload.PurchaseDate)
	if err != nil {
		return err
	}
	record.ID = uuid.NewString()
	record.CreatedAt = s.now()

	msgs, err := s.taxMessages(env.CorrelationID, entry, record, events.TypeTaxDeductible)
	if err != nil {
		return err
	}

	inserted, err := s.taxes.Create(record, s.guard.Delivery(env), msgs)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordTaxRecorded()
	}
	logger.WithFields(log.Fields{
		"entry_id": entry.ID,
		"tax_id":   inserted.ID,
	}).Info("purchase posted to ledger")
	return nil
}

// HandlePaymentRecorded проводит поступление оплаты в кассу. Налоговой
// записи у платежа нет, поэтому отметка о доставке пишется вместе
// с публикацией ledger.posted после идемпотентной проводки.
func (s *Service) HandlePaymentRecorded(ctx context.Context, env events.Envelope) error {
	payload, err := events.DecodePayload[events.PaymentRecordedPayload](env)
	if err != nil {
		return err
	}

	entry, err := s.postReferencedEntry(postReferencedEntryInput{
		entryDate:      payload.PaymentDate,
		entryType:      domain.EntryTypePaiement,
		debitCode:      AccountCodeCaisse,
		creditCode:     AccountCodeClients,
		amountMinor:    payload.AmountMinor,
		referenceType:  "payment",
		referenceID:    payload.PaymentID,
		description:    "Paiement vente " + payload.SaleID,
		idempotencyKey: fmt.Sprintf("payment_%s_entry", payload.PaymentID),
	})
	if err != nil {
		return err
	}

	msg, err := ledgerPostedMessage(env.CorrelationID, entry)
	if err != nil {
		return err
	}
	// Отметка о доставке и ledger.posted фиксируются одной транзакцией.
	if _, err := s.outbox.Enqueue(msg, s.guard.Delivery(env)); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"payment_id":     payload.PaymentID,
		"entry_id":       entry.ID,
		"correlation_id": env.CorrelationID,
	}).Info("payment posted to ledger")
	return nil
}

type postReferencedEntryInput struct {
	entryDate      string
	entryType      domain.EntryType
	debitCode      string
	creditCode     string
	amountMinor    int64
	referenceType  string
	referenceID    string
	description    string
	idempotencyKey string
}

// postReferencedEntry вставляет проводку между счетами базового плана.
// Вставка идемпотентна по ключу: повтор возвращает существующую проводку.
func (s *Service) postReferencedEntry(input postReferencedEntryInput) (domain.LedgerEntry, error) {
	debit, err := s.accounts.GetByCode(input.debitCode)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("resolve debit account %s: %w", input.debitCode, err)
	}
	credit, err := s.accounts.GetByCode(input.creditCode)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("resolve credit account %s: %w", input.creditCode, err)
	}

	month, year, err := domain.FiscalPeriod(input.entryDate)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	return s.ledger.Create(domain.LedgerEntry{
		EntryDate:       input.entryDate,
		Type:            input.entryType,
		DebitAccountID:  debit.ID,
		CreditAccountID: credit.ID,
		AmountMinor:     input.amountMinor,
		ReferenceType:   input.referenceType,
		ReferenceID:     input.referenceID,
		Description:     input.description,
		FiscalMonth:     month,
		FiscalYear:      year,
		IdempotencyKey:  input.idempotencyKey,
	})
}

// taxMessages собирает пару событий обработанного документа: ledger.posted
// по проводке и налоговое событие по записи TVA.
func (s *Service) taxMessages(correlationID string, entry domain.LedgerEntry, record domain.TaxRecord, taxEventType string) ([]domain.OutboxMessage, error) {
	posted, err := ledgerPostedMessage(correlationID, entry)
	if err != nil {
		return nil, err
	}
	tax, err := buildMessage(taxEventType, correlationID, events.TaxRecordedPayload{
		TaxID:         record.ID,
		TaxType:       string(record.Type),
		BaseMinor:     record.BaseAmountMinor,
		TaxMinor:      record.TaxAmountMinor,
		ReferenceType: record.ReferenceType,
		ReferenceID:   record.ReferenceID,
		FiscalMonth:   record.FiscalMonth,
	})
	if err != nil {
		return nil, err
	}
	return []domain.OutboxMessage{posted, tax}, nil
}

func ledgerPostedMessage(correlationID string, entry domain.LedgerEntry) (domain.OutboxMessage, error) {
	return buildMessage(events.TypeLedgerPosted, correlationID, events.LedgerPostedPayload{
		EntryID:       entry.ID,
		EntryType:     string(entry.Type),
		AmountMinor:   entry.AmountMinor,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
		FiscalMonth:   entry.FiscalMonth,
	})
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

// Register подписывает обработчики на шину, оборачивая их дедупликацией.
func (s *Service) Register(bus events.Bus) {
	bus.Subscribe(events.TypeSaleCreated, s.guard.Wrap(s.HandleSaleCreated))
	bus.Subscribe(events.TypePurchaseReceived, s.guard.Wrap(s.HandlePurchaseReceived))
	bus.Subscribe(events.TypePaymentRecorded, s.guard.Wrap(s.HandlePaymentRecorded))
}
