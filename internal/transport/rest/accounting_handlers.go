package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/service/accounting"
)

// RegisterAccountingRoutes вешает маршруты сервиса бухгалтерии на движок.
func RegisterAccountingRoutes(engine *gin.Engine, service *accounting.Service, verifier *auth.Verifier) {
	v1 := engine.Group("/api/v1")

	v1.POST("/accounts", require(verifier, auth.CapLedgerWrite), createAccount(service))
	v1.GET("/accounts", listAccounts(service))

	v1.POST("/ledger-entries", require(verifier, auth.CapLedgerWrite), postEntry(service))
	v1.GET("/ledger-entries", listEntries(service))
	v1.GET("/ledger-entries/:id", getEntry(service))
	v1.POST("/ledger-entries/:id/reverse", require(verifier, auth.CapLedgerWrite), reverseEntry(service))

	v1.GET("/tax-records", require(verifier, auth.CapTaxReport), listTaxRecords(service))
	v1.GET("/tax-reports/monthly", require(verifier, auth.CapTaxReport), monthlyTVAReport(service))
}

type createAccountRequest struct {
	Code            string `json:"code" binding:"required"`
	Name            string `json:"name" binding:"required"`
	Type            string `json:"account_type" binding:"required"`
	ParentAccountID string `json:"parent_account_id"`
	Description     string `json:"description"`
}

func createAccount(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		account, err := service.CreateAccount(accounting.CreateAccountInput{
			Code:            req.Code,
			Name:            req.Name,
			Type:            domain.AccountType(req.Type),
			ParentAccountID: req.ParentAccountID,
			Description:     req.Description,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	}
}

func listAccounts(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListAccounts(
			domain.AccountType(c.Query("account_type")),
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

type postEntryRequest struct {
	EntryDate       string `json:"entry_date"`
	Type            string `json:"entry_type" binding:"required"`
	DebitAccountID  string `json:"debit_account_id" binding:"required"`
	CreditAccountID string `json:"credit_account_id" binding:"required"`
	AmountMinor     int64  `json:"amount" binding:"required"`
	ReferenceType   string `json:"reference_type"`
	ReferenceID     string `json:"reference_id"`
	Description     string `json:"description"`
	Notes           string `json:"notes"`
	IdempotencyKey  string `json:"idempotency_key"`
}

func postEntry(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req postEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		input := accounting.PostEntryInput{
			EntryDate:       req.EntryDate,
			Type:            domain.EntryType(req.Type),
			DebitAccountID:  req.DebitAccountID,
			CreditAccountID: req.CreditAccountID,
			AmountMinor:     req.AmountMinor,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
			Description:     req.Description,
			Notes:           req.Notes,
			IdempotencyKey:  req.IdempotencyKey,
			CreatedBy:       callerID(c),
		}
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			input.IdempotencyKey = key
		}
		if input.EntryDate == "" {
			input.EntryDate = time.Now().UTC().Format("2006-01-02")
		}

		entry, err := service.PostEntry(input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func getEntry(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := service.GetEntry(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func listEntries(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListEntries(domain.LedgerFilter{
			Type:          domain.EntryType(c.Query("entry_type")),
			FiscalMonth:   c.Query("fiscal_month"),
			ReferenceType: c.Query("reference_type"),
			ReferenceID:   c.Query("reference_id"),
			Skip:          intQuery(c, "skip", 0),
			Limit:         intQuery(c, "limit", 100),
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type reverseEntryRequest struct {
	EntryDate string `json:"entry_date"`
	Notes     string `json:"notes"`
}

func reverseEntry(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reverseEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.EntryDate == "" {
			req.EntryDate = time.Now().UTC().Format("2006-01-02")
		}
		reversal, err := service.ReverseEntry(c.Param("id"), req.EntryDate, req.Notes, callerID(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, reversal)
	}
}

func listTaxRecords(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListTaxRecords(
			domain.TaxType(c.Query("tax_type")),
			c.Query("fiscal_month"),
			c.Query("reference_type"),
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

func monthlyTVAReport(service *accounting.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		fiscalYear := c.Query("fiscal_year")
		if fiscalYear == "" {
			fiscalYear = time.Now().UTC().Format("2006")
		}
		report, err := service.MonthlyTVAReport(fiscalYear)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
