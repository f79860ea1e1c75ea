// Package handler содержит маршрутизацию API Gateway.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/services/gateway/internal/middleware"
	"example.com/order-saga/services/gateway/internal/proxy"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация роутера.
type Router struct {
	engine         *gin.Engine
	order          *proxy.Upstream
	payment        *proxy.Upstream
	inventory      *proxy.Upstream
	rateLimitMW    *middleware.RateLimitMiddleware
	tracingMW      *middleware.TracingMiddleware
	readinessCheck ReadinessChecker // опциональная проверка готовности
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Order          *proxy.Upstream
	Payment        *proxy.Upstream
	Inventory      *proxy.Upstream
	RateLimitMW    *middleware.RateLimitMiddleware
	TracingMW      *middleware.TracingMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Стандартные middleware Gin
	engine.Use(gin.Recovery())

	// CORS — обработка cross-origin запросов
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Security headers — защита от clickjacking, MIME-sniffing, XSS
	engine.Use(middleware.SecurityHeaders())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("gateway"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("gateway"))

	r := &Router{
		engine:         engine,
		order:          cfg.Order,
		payment:        cfg.Payment,
		inventory:      cfg.Inventory,
		rateLimitMW:    cfg.RateLimitMW,
		tracingMW:      cfg.TracingMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает маршрутизацию по префиксу пути.
func (r *Router) setupRoutes() {
	// Глобальные middleware
	if r.tracingMW != nil {
		r.engine.Use(r.tracingMW.Handle())
	}

	// Health endpoints (без rate limiting)
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// Rate limiting на проксируемом трафике (если включен)
	proxied := r.engine.Group("/")
	if r.rateLimitMW != nil {
		proxied.Use(r.rateLimitMW.Handle())
	}

	// === Маршрутизация по префиксу ===
	// /orders и /customers принадлежат Order Service, /payments — Payment,
	// /inventory — Inventory. Всё остальное — 404.
	orderHandler := r.order.Handler()
	proxied.Any("/orders", orderHandler)
	proxied.Any("/orders/*path", orderHandler)
	proxied.Any("/customers/*path", orderHandler)

	paymentHandler := r.payment.Handler()
	proxied.Any("/payments", paymentHandler)
	proxied.Any("/payments/*path", paymentHandler)

	inventoryHandler := r.inventory.Handler()
	proxied.Any("/inventory", inventoryHandler)
	proxied.Any("/inventory/*path", inventoryHandler)

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheck — проверка работоспособности gateway. Возвращает адреса
// настроенных вышестоящих сервисов.
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "api-gateway",
		"upstreams": gin.H{
			r.order.Name:     r.order.BaseURL.String(),
			r.payment.Name:   r.payment.BaseURL.String(),
			r.inventory.Name: r.inventory.BaseURL.String(),
		},
	})
}

// livenessCheck — k8s liveness probe.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — k8s readiness probe.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	if err := r.readinessCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
