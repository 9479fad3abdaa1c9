package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/service/sales"
)

// RegisterSalesRoutes вешает маршруты сервиса продаж на движок.
func RegisterSalesRoutes(engine *gin.Engine, service *sales.Service, verifier *auth.Verifier) {
	v1 := engine.Group("/api/v1")

	v1.POST("/customers", require(verifier, auth.CapCustomerWrite), createCustomer(service))
	v1.GET("/customers", listCustomers(service))
	v1.GET("/customers/:id", getCustomer(service))

	v1.POST("/sales", require(verifier, auth.CapSaleCreate), createSale(service))
	v1.GET("/sales", listSales(service))
	v1.GET("/sales/:id", getSale(service))
	v1.GET("/sales/:id/timeline", getSaleTimeline(service))
	v1.POST("/sales/:id/cancel", require(verifier, auth.CapSaleCreate), cancelSale(service))

	v1.POST("/payments", require(verifier, auth.CapPaymentRecord), createPayment(service))
	v1.GET("/payments", listPayments(service))
}

type saleLineRequest struct {
	ProductID      string `json:"product_id" binding:"required"`
	ProductCode    string `json:"product_code"`
	ProductName    string `json:"product_name"`
	Qty            int64  `json:"quantity" binding:"required"`
	UnitPriceMinor int64  `json:"unit_price" binding:"required"`
	TaxRateBps     int64  `json:"tax_rate"`
}

type createSaleRequest struct {
	CustomerID      string            `json:"customer_id" binding:"required"`
	SaleDate        string            `json:"sale_date"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Notes           string            `json:"notes"`
	DeliveryAddress string            `json:"delivery_address"`
	Lines           []saleLineRequest `json:"lines" binding:"required"`
}

func createSale(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		input := sales.CreateSaleInput{
			CustomerID:      req.CustomerID,
			SaleDate:        req.SaleDate,
			IdempotencyKey:  req.IdempotencyKey,
			Notes:           req.Notes,
			DeliveryAddress: req.DeliveryAddress,
			CreatedBy:       callerID(c),
		}
		// Заголовок имеет приоритет над полем тела.
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			input.IdempotencyKey = key
		}
		if input.SaleDate == "" {
			input.SaleDate = time.Now().UTC().Format("2006-01-02")
		}
		for _, line := range req.Lines {
			input.Lines = append(input.Lines, sales.CreateSaleLineInput{
				ProductID:      line.ProductID,
				ProductCode:    line.ProductCode,
				ProductName:    line.ProductName,
				Qty:            line.Qty,
				UnitPriceMinor: line.UnitPriceMinor,
				TaxRateBps:     line.TaxRateBps,
			})
		}

		sale, created, err := service.CreateSale(c.Request.Context(), input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, sale)
	}
}

func getSale(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := service.GetSale(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func listSales(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := domain.SaleFilter{
			CustomerID: c.Query("customer_id"),
			Status:     domain.SaleStatus(c.Query("status")),
			FromDate:   c.Query("from_date"),
			ToDate:     c.Query("to_date"),
			Skip:       intQuery(c, "skip", 0),
			Limit:      intQuery(c, "limit", 100),
		}
		result, err := service.ListSales(filter)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func getSaleTimeline(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := service.SaleTimeline(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func cancelSale(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := service.CancelSale(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

type createCustomerRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	PhoneNumber  string `json:"phone_number"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	CustomerType string `json:"customer_type"`
	TaxID        string `json:"tax_id"`
	CreditLimit  int64  `json:"credit_limit"`
}

func createCustomer(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCustomerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := service.CreateCustomer(sales.CreateCustomerInput{
			Code:         req.Code,
			Name:         req.Name,
			PhoneNumber:  req.PhoneNumber,
			Email:        req.Email,
			Address:      req.Address,
			CustomerType: req.CustomerType,
			TaxID:        req.TaxID,
			CreditLimit:  req.CreditLimit,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func getCustomer(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := service.GetCustomer(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func listCustomers(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListCustomers(
			c.Query("active_only") == "true",
			intQuery(c, "skip", 0),
			intQuery(c, "limit", 100),
		)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type createPaymentRequest struct {
	SaleID               string `json:"sale_id" binding:"required"`
	PaymentDate          string `json:"payment_date"`
	Method               string `json:"payment_method" binding:"required"`
	AmountMinor          int64  `json:"amount" binding:"required"`
	TransactionReference string `json:"transaction_reference"`
	Notes                string `json:"notes"`
	IdempotencyKey       string `json:"idempotency_key"`
}

func createPayment(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		input := sales.RecordPaymentInput{
			SaleID:               req.SaleID,
			PaymentDate:          req.PaymentDate,
			Method:               domain.PaymentMethod(req.Method),
			AmountMinor:          req.AmountMinor,
			TransactionReference: req.TransactionReference,
			Notes:                req.Notes,
			ProcessedBy:          callerID(c),
			IdempotencyKey:       req.IdempotencyKey,
		}
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			input.IdempotencyKey = key
		}

		payment, created, err := service.RecordPayment(input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, payment)
	}
}

func listPayments(service *sales.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListPayments(c.Query("sale_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// callerID возвращает идентификатор пользователя из claims, если
// авторизация включена.
func callerID(c *gin.Context) string {
	claims, ok := auth.FromContext(c)
	if !ok {
		return ""
	}
	return claims.UserID
}
