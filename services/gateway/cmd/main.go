// Package main — точка входа API Gateway.
// Gateway — тонкий обратный прокси: маршрутизирует запросы по префиксу
// пути на Order/Payment/Inventory сервисы, добавляя rate limiting,
// CORS, security headers и трассировку.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/order-saga/pkg/config"
	"example.com/order-saga/pkg/db"
	"example.com/order-saga/pkg/healthcheck"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/pkg/tracing"
	"example.com/order-saga/services/gateway/internal/handler"
	"example.com/order-saga/services/gateway/internal/middleware"
	"example.com/order-saga/services/gateway/internal/proxy"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "api-gateway").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Str("order_service", cfg.Gateway.OrderServiceURL).
		Str("payment_service", cfg.Gateway.PaymentServiceURL).
		Str("inventory_service", cfg.Gateway.InventoryServiceURL).
		Msg("Запуск API Gateway")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "gateway",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Redis для rate limiting ===

	rdb := db.ConnectRedis(cfg.Redis)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	pingCancel()
	log.Info().Msg("Подключение к Redis установлено")

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"gateway",
			metrics.WithReadinessCheck(readinessCheck),
		)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Прокси на вышестоящие сервисы ===

	orderUpstream, err := proxy.NewUpstream("order-service", cfg.Gateway.OrderServiceURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка конфигурации Order Service")
	}
	paymentUpstream, err := proxy.NewUpstream("payment-service", cfg.Gateway.PaymentServiceURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка конфигурации Payment Service")
	}
	inventoryUpstream, err := proxy.NewUpstream("inventory-service", cfg.Gateway.InventoryServiceURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка конфигурации Inventory Service")
	}

	// === Роутер и HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		Order:     orderUpstream,
		Payment:   paymentUpstream,
		Inventory: inventoryUpstream,
		RateLimitMW: middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis: rdb,
		}),
		TracingMW:      middleware.NewTracingMiddleware(),
		ReadinessCheck: readinessCheck,
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router.Engine(),
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Запуск HTTP сервера")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("API Gateway остановлен")
}
