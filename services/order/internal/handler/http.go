// Package handler содержит HTTP обработчики REST API Order Service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/pkg/middleware"
	"example.com/order-saga/services/order/internal/domain"
	"example.com/order-saga/services/order/internal/saga"
	"example.com/order-saga/services/order/internal/service"
)

// cancelShippedMessage — формулировка отказа в отмене отгруженного заказа,
// зафиксированная внешним контрактом API.
const cancelShippedMessage = "Cannot cancel an order that has been shipped or delivered"

// OrderHandler — обработчик запросов заказов.
type OrderHandler struct {
	orders service.OrderService
	saga   *saga.Handlers
}

// NewOrderHandler создаёт новый обработчик заказов.
func NewOrderHandler(orders service.OrderService, sagaHandlers *saga.Handlers) *OrderHandler {
	return &OrderHandler{orders: orders, saga: sagaHandlers}
}

// NewRouter собирает Gin router Order Service.
func NewRouter(h *OrderHandler, readiness func(context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.Tracing(),
		middleware.Logging(),
		metrics.GinMetricsMiddleware("order-service"),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "order-service"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if err := readiness(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	orders := router.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("/:id", h.GetOrder)
		orders.POST("/:id/cancel", h.CancelOrder)
		// Точка входа внешней системы доставки; через gateway не проксируется
		orders.POST("/:id/ship", h.ShipOrder)
	}

	router.GET("/customers/:id/orders", h.GetCustomerOrders)

	return router
}

// === Request/Response DTOs ===

// CreateOrderItemRequest — позиция создаваемого заказа.
type CreateOrderItemRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	Quantity  int32   `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unit_price" binding:"min=0"`
}

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	CustomerID string                   `json:"customer_id" binding:"required"`
	Items      []CreateOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CancelOrderRequest — запрос на отмену заказа.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// ShipOrderRequest — сигнал отгрузки от внешней системы доставки.
type ShipOrderRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

// CreateOrder обрабатывает POST /orders: создаёт заказ и запускает сагу.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: domain.Money{
				Currency: "USD",
				Amount:   int64(item.UnitPrice*100 + 0.5),
			},
		}
	}

	order, err := h.orders.CreateOrder(
		c.Request.Context(),
		req.CustomerID,
		c.GetHeader("Idempotency-Key"),
		items,
	)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка создания заказа")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id": order.ID,
		"saga_id":  order.SagaID,
		"status":   string(order.Status),
	})
}

// GetOrder обрабатывает GET /orders/:id?include_saga_history=bool.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	includeSaga, _ := strconv.ParseBool(c.DefaultQuery("include_saga_history", "false"))

	order, sagaEvents, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), includeSaga)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := orderResponse(order)
	if includeSaga {
		history := make([]gin.H, 0, len(sagaEvents))
		for _, event := range sagaEvents {
			history = append(history, sagaEventResponse(event))
		}
		resp["saga_history"] = history
	}

	c.JSON(http.StatusOK, resp)
}

// CancelOrder обрабатывает POST /orders/:id/cancel.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "status": string(order.Status)})
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, domain.ErrOrderShippedCannotCancel):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": cancelShippedMessage})
	case errors.Is(err, domain.ErrOrderCannotCancel):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("order_id", c.Param("id")).
			Msg("Ошибка отмены заказа")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// ShipOrder обрабатывает POST /orders/:id/ship — сигнал внешней системы
// доставки (симулятор order_shipped для операторов и тестов).
func (h *OrderHandler) ShipOrder(c *gin.Context) {
	var req ShipOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := h.saga.ShipOrder(c.Request.Context(), c.Param("id"), req.TrackingNumber, nil); err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("order_id", c.Param("id")).
			Msg("Ошибка отгрузки заказа")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetCustomerOrders обрабатывает GET /customers/:id/orders.
func (h *OrderHandler) GetCustomerOrders(c *gin.Context) {
	customerID := c.Param("id")

	orders, err := h.orders.GetCustomerOrders(c.Request.Context(), customerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	items := make([]gin.H, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderResponse(order))
	}

	c.JSON(http.StatusOK, gin.H{
		"customer_id":  customerID,
		"orders":       items,
		"total_orders": len(items),
	})
}

// =============================================================================
// Сборка ответов
// =============================================================================

// orderResponse — снимок заказа. Статус сериализуется именем, суммы —
// в десятичном представлении JSON-границы.
func orderResponse(order *domain.Order) gin.H {
	items := make([]gin.H, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, gin.H{
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
			"unit_price": float64(item.UnitPrice.Amount) / 100,
		})
	}

	resp := gin.H{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"status":       string(order.Status),
		"total_amount": float64(order.TotalAmount.Amount) / 100,
		"items":        items,
		"created_at":   order.CreatedAt,
		"modified_at":  order.UpdatedAt,
	}
	if order.SagaID != nil {
		resp["saga_id"] = *order.SagaID
	}
	if len(order.Metadata) > 0 {
		resp["metadata"] = order.Metadata
	}
	return resp
}

// sagaEventResponse — запись истории саги.
func sagaEventResponse(event *domain.SagaEvent) gin.H {
	var data map[string]any
	if len(event.EventData) > 0 {
		_ = json.Unmarshal(event.EventData, &data)
	}

	return gin.H{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"event_data": data,
		"timestamp":  event.Timestamp,
	}
}

// isValidationError отличает ошибки валидации входных данных от
// инфраструктурных: первые — 400, вторые — 500.
func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidCustomerID) ||
		errors.Is(err, domain.ErrEmptyOrderItems) ||
		errors.Is(err, domain.ErrInvalidProductID) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidPrice) ||
		errors.Is(err, domain.ErrDuplicateOrder)
}
