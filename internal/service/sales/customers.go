package sales

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
)

// CreateCustomerInput — входной запрос создания клиента.
type CreateCustomerInput struct {
	Code         string
	Name         string
	PhoneNumber  string
	Email        string
	Address      string
	CustomerType string
	TaxID        string
	CreditLimit  int64
}

// CreateCustomer регистрирует клиента и публикует customer.created.
func (s *Service) CreateCustomer(input CreateCustomerInput) (domain.Customer, error) {
	customer := domain.Customer{
		ID:           uuid.NewString(),
		Code:         input.Code,
		Name:         input.Name,
		PhoneNumber:  input.PhoneNumber,
		Email:        input.Email,
		Address:      input.Address,
		CustomerType: input.CustomerType,
		TaxID:        input.TaxID,
		CreditLimit:  input.CreditLimit,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if customer.CustomerType == "" {
		customer.CustomerType = "INDIVIDUEL"
	}

	if err := s.customers.Create(customer); err != nil {
		return domain.Customer{}, err
	}

	if err := s.enqueue(events.TypeCustomerCreated, "", events.CustomerCreatedPayload{
		CustomerID: customer.ID,
		Code:       customer.Code,
		Name:       customer.Name,
	}); err != nil {
		s.logger.WithError(err).WithField("customer_id", customer.ID).Warn("failed to enqueue customer.created")
	}

	s.logger.WithFields(log.Fields{
		"customer_id": customer.ID,
		"code":        customer.Code,
	}).Info("customer created")
	return customer, nil
}

// GetCustomer возвращает клиента по идентификатору.
func (s *Service) GetCustomer(id string) (domain.Customer, error) {
	return s.customers.Get(id)
}

// ListCustomers возвращает клиентов.
func (s *Service) ListCustomers(activeOnly bool, skip, limit int) ([]domain.Customer, error) {
	return s.customers.List(activeOnly, skip, limit)
}

// receiptNumber выдаёт номер квитанции вида REC-YYYYMMDD-HHMMSS.
func receiptNumber(now time.Time) string {
	return "REC-" + now.Format("20060102-150405")
}
