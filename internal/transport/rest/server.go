// Package rest — HTTP-поверхность сервисов: gin-маршруты поверх
// сервисного слоя, авторизация по возможностям и единый маппинг
// доменных ошибок в статусы ответов.
package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// NewEngine собирает gin-движок с базовыми middleware. verifier может
// быть nil: тогда авторизация отключена (локальная разработка и тесты).
func NewEngine(debug bool, verifier *auth.Verifier) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	engine.Use(cors.New(corsConfig))

	if verifier != nil {
		engine.Use(auth.Middleware(verifier))
	}
	return engine
}

// require возвращает проверку возможности либо no-op, когда
// авторизация отключена.
func require(verifier *auth.Verifier, capability auth.Capability) gin.HandlerFunc {
	if verifier == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Require(capability)
}

// abortWithError транслирует доменную ошибку в HTTP-статус.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSaleNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrEntryNotFound),
		errors.Is(err, domain.ErrTaxRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSaleAlreadyExists),
		errors.Is(err, domain.ErrCustomerCodeTaken),
		errors.Is(err, domain.ErrProductCodeTaken),
		errors.Is(err, domain.ErrAccountCodeTaken),
		errors.Is(err, domain.ErrSaleTerminal),
		errors.Is(err, domain.ErrEntryAlreadyReversed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrLinesRequired),
		errors.Is(err, domain.ErrLineQtyInvalid),
		errors.Is(err, domain.ErrLinePriceInvalid),
		errors.Is(err, domain.ErrSaleDateRequired),
		errors.Is(err, domain.ErrPaymentAmountInvalid),
		errors.Is(err, domain.ErrMovementQtyInvalid),
		errors.Is(err, domain.ErrMovementTypeInvalid),
		errors.Is(err, domain.ErrEntryAmountInvalid),
		errors.Is(err, domain.ErrTaxBaseInvalid),
		errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
