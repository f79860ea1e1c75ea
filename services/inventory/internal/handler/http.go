// Package handler содержит HTTP обработчики REST API Inventory Service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/pkg/middleware"
	"example.com/order-saga/services/inventory/internal/domain"
	"example.com/order-saga/services/inventory/internal/service"
)

// InventoryHandler — обработчик запросов склада.
type InventoryHandler struct {
	inventory service.InventoryService
}

// NewInventoryHandler создаёт новый обработчик склада.
func NewInventoryHandler(inventory service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// NewRouter собирает Gin router Inventory Service.
func NewRouter(h *InventoryHandler, readiness func(context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.Tracing(),
		middleware.Logging(),
		metrics.GinMetricsMiddleware("inventory-service"),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "inventory-service"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if err := readiness(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	inv := router.Group("/inventory")
	{
		inv.POST("/allocate", h.Allocate)
		inv.POST("/products", h.CreateProduct)
		inv.GET("/products", h.ListProducts)
		inv.GET("/products/:id", h.GetProduct)
		inv.POST("/products/:id/restock", h.Restock)
	}

	return router
}

// === Request/Response DTOs ===

// AllocateRequest — синхронный вариант команды резервирования.
type AllocateRequest struct {
	OrderID string         `json:"order_id" binding:"required"`
	SagaID  *string        `json:"saga_id"`
	Items   map[string]int `json:"items" binding:"required"`
}

// CreateProductRequest — запрос на добавление товара.
type CreateProductRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	SKU         string  `json:"sku" binding:"required"`
	Price       float64 `json:"price" binding:"min=0"`
	Quantity    int     `json:"quantity" binding:"min=0"`
}

// RestockRequest — запрос на пополнение остатка.
type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// Allocate обрабатывает POST /inventory/allocate — синхронное зеркало
// события inventory_requested (результат возвращается в теле ответа,
// inventory_allocated при этом публикуется как обычно).
func (h *InventoryHandler) Allocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	result, err := h.inventory.AllocateInventory(c.Request.Context(), service.AllocateRequest{
		OrderID: req.OrderID,
		SagaID:  req.SagaID,
		Items:   req.Items,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("order_id", req.OrderID).
			Msg("Ошибка резервирования товаров")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":        req.OrderID,
		"success":         result.Success,
		"message":         result.Message,
		"allocated_items": result.AllocatedItems,
	})
}

// CreateProduct обрабатывает POST /inventory/products.
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	product := &domain.Product{
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Price:       int64(req.Price*100 + 0.5),
		Quantity:    req.Quantity,
	}

	if err := h.inventory.CreateProduct(c.Request.Context(), product); err != nil {
		if errors.Is(err, domain.ErrDuplicateSKU) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_sku"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, productResponse(product))
}

// GetProduct обрабатывает GET /inventory/products/:id.
func (h *InventoryHandler) GetProduct(c *gin.Context) {
	product, err := h.inventory.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, productResponse(product))
}

// ListProducts обрабатывает GET /inventory/products.
func (h *InventoryHandler) ListProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	products, err := h.inventory.ListProducts(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	items := make([]gin.H, 0, len(products))
	for _, p := range products {
		items = append(items, productResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{"products": items, "total": len(items)})
}

// Restock обрабатывает POST /inventory/products/:id/restock.
func (h *InventoryHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	product, err := h.inventory.Restock(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, productResponse(product))
}

// productResponse — снимок товара для REST чтения. Производный статус
// наличия сериализуется именем (IN_STOCK, LOW_STOCK, OUT_OF_STOCK).
func productResponse(p *domain.Product) gin.H {
	return gin.H{
		"product_id":  p.ID,
		"name":        p.Name,
		"description": p.Description,
		"sku":         p.SKU,
		"price":       float64(p.Price) / 100,
		"currency":    p.Currency,
		"quantity":    p.Quantity,
		"status":      string(p.Status()),
		"created_at":  p.CreatedAt,
		"modified_at": p.UpdatedAt,
	}
}
