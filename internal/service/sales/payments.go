package sales

import (
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
)

// RecordPaymentInput — входной запрос регистрации платежа.
type RecordPaymentInput struct {
	SaleID               string
	PaymentDate          string
	Method               domain.PaymentMethod
	AmountMinor          int64
	TransactionReference string
	Notes                string
	ProcessedBy          string
	IdempotencyKey       string
}

// RecordPayment регистрирует платёж по продаже и публикует payment.recorded.
// Повтор запроса с тем же ключом идемпотентности возвращает ранее
// созданный платёж.
func (s *Service) RecordPayment(input RecordPaymentInput) (domain.Payment, bool, error) {
	if input.IdempotencyKey != "" {
		existing, err := s.payments.GetByIdempotencyKey(input.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, false, err
		}
	}

	sale, err := s.sales.Get(input.SaleID)
	if err != nil {
		return domain.Payment{}, false, err
	}

	now := s.now()
	payment := domain.Payment{
		ID:                   uuid.NewString(),
		SaleID:               sale.ID,
		PaymentDate:          input.PaymentDate,
		Method:               input.Method,
		AmountMinor:          input.AmountMinor,
		Status:               domain.PaymentStatusCompleted,
		TransactionReference: input.TransactionReference,
		ReceiptNumber:        receiptNumber(now),
		Notes:                input.Notes,
		ProcessedBy:          input.ProcessedBy,
		IdempotencyKey:       input.IdempotencyKey,
		CreatedAt:            now,
	}
	if payment.PaymentDate == "" {
		payment.PaymentDate = now.Format("2006-01-02")
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, false, errs[0]
	}

	msg, err := buildMessage(events.TypePaymentRecorded, sale.CorrelationID, events.PaymentRecordedPayload{
		PaymentID:   payment.ID,
		SaleID:      sale.ID,
		AmountMinor: payment.AmountMinor,
		Method:      string(payment.Method),
		PaymentDate: payment.PaymentDate,
		Status:      string(payment.Status),
	})
	if err != nil {
		return domain.Payment{}, false, err
	}

	// Платёж и payment.recorded пишутся одной транзакцией.
	if err := s.payments.Create(payment, []domain.OutboxMessage{msg}); err != nil {
		if errors.Is(err, domain.ErrSaleAlreadyExists) && input.IdempotencyKey != "" {
			existing, getErr := s.payments.GetByIdempotencyKey(input.IdempotencyKey)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return domain.Payment{}, false, err
	}

	s.recordTimeline(sale.ID, domain.TimelinePaymentRecorded, string(payment.Method))

	s.logger.WithFields(log.Fields{
		"payment_id":   payment.ID,
		"sale_id":      sale.ID,
		"amount_minor": payment.AmountMinor,
		"method":       payment.Method,
	}).Info("payment recorded")
	return payment, true, nil
}

// ListPayments возвращает платежи по продаже.
func (s *Service) ListPayments(saleID string) ([]domain.Payment, error) {
	return s.payments.ListBySale(saleID)
}
