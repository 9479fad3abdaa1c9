package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/service/inventory"
)

// RegisterInventoryRoutes вешает маршруты сервиса склада на движок.
func RegisterInventoryRoutes(engine *gin.Engine, service *inventory.Service, verifier *auth.Verifier) {
	v1 := engine.Group("/api/v1")

	v1.POST("/products", require(verifier, auth.CapProductWrite), createProduct(service))
	v1.GET("/products", listProducts(service))
	v1.GET("/products/:id", getProduct(service))

	v1.POST("/stock-movements", require(verifier, auth.CapMovementWrite), createMovement(service))
	v1.GET("/stock-movements", listMovements(service))
	v1.GET("/stock-levels", listStockLevels(service))
	v1.GET("/stock-levels/:product_id", getStockLevel(service))
}

type createProductRequest struct {
	Code           string `json:"code" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	Type           string `json:"product_type" binding:"required"`
	Unit           string `json:"unit"`
	MinStockLevel  int64  `json:"min_stock_level"`
	MaxStockLevel  int64  `json:"max_stock_level"`
	UnitCostMinor  int64  `json:"unit_cost"`
	UnitPriceMinor int64  `json:"unit_price"`
}

func createProduct(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := service.CreateProduct(inventory.CreateProductInput{
			Code:           req.Code,
			Name:           req.Name,
			Description:    req.Description,
			Type:           domain.ProductType(req.Type),
			Unit:           req.Unit,
			MinStockLevel:  req.MinStockLevel,
			MaxStockLevel:  req.MaxStockLevel,
			UnitCostMinor:  req.UnitCostMinor,
			UnitPriceMinor: req.UnitPriceMinor,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func getProduct(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := service.GetProduct(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listProducts(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListProducts(
			domain.ProductType(c.Query("product_type")),
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

type createMovementRequest struct {
	ProductID     string `json:"product_id" binding:"required"`
	Type          string `json:"movement_type" binding:"required"`
	Qty           int64  `json:"quantity" binding:"required"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Notes         string `json:"notes"`
	Location      string `json:"location"`
}

func createMovement(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createMovementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		movement, err := service.RecordMovement(inventory.RecordMovementInput{
			ProductID:     req.ProductID,
			Type:          domain.MovementType(req.Type),
			Qty:           req.Qty,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			Notes:         req.Notes,
			Location:      req.Location,
			CreatedBy:     callerID(c),
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func listMovements(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ListMovements(
			c.Query("product_id"),
			domain.MovementType(c.Query("movement_type")),
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

func listStockLevels(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		levels, err := service.ListStockLevels(
			c.Query("active_only") == "true",
			intQuery(c, "skip", 0),
			intQuery(c, "limit", 100),
		)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, levels)
	}
}

func getStockLevel(service *inventory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		level, err := service.StockLevel(c.Param("product_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, level)
	}
}
