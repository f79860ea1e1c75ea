// Payment Service — микросервис обработки платежей.
// Слушает payment_requested/payment_refund_requested из темы payments,
// проводит платёж через платёжный шлюз и публикует результат через outbox.
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

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/config"
	"example.com/order-saga/pkg/db"
	"example.com/order-saga/pkg/healthcheck"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/pkg/middleware"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/pkg/tracing"
	"example.com/order-saga/services/payment/internal/domain"
	"example.com/order-saga/services/payment/internal/gateway"
	"example.com/order-saga/services/payment/internal/repository"
	"example.com/order-saga/services/payment/internal/saga"
	"example.com/order-saga/services/payment/internal/service"
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

	// Создаём логгер с контекстом сервиса
	log := logger.With().Str("service", "payment-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск Payment Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "payment-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

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
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"payment-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	paymentRepo := repository.NewPaymentRepository(gormDB)
	paymentGateway := gateway.NewSimulated(100 * time.Millisecond)
	paymentService := service.NewPaymentService(gormDB, paymentRepo, rdb, paymentGateway)
	handlers := saga.NewHandlers(paymentService)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// === Kafka: consumer темы payments + outbox worker ===

	var kafkaConsumer *kafka.Consumer
	var kafkaProducer *kafka.Producer

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultSagaTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		kafkaConsumer, err = kafka.NewConsumer(
			kafka.Config{Brokers: cfg.Kafka.Brokers},
			kafka.TopicPayments,
			"payment-service",
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		kafkaConsumer.SetDLQProducer(kafkaProducer)

		go func() {
			log.Info().Msg("Запуск обработчика событий payments")
			if err := kafkaConsumer.ConsumeWithRetry(ctx, handlers.HandlePayments, 3); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка обработчика событий payments")
			}
		}()

		// Outbox worker публикует payment_processed/payment_refunded
		outboxWorker := outbox.NewOutboxWorker(
			outbox.NewOutboxRepository(gormDB, "payment"),
			kafkaProducer,
			outbox.DefaultWorkerConfig(),
			"payment",
		)
		go outboxWorker.Run(ctx)
	} else {
		log.Warn().Msg("Kafka не настроена — обработка событий саги отключена")
	}

	// Фоновое восстановление зависших платежей
	go runStuckPaymentRecovery(ctx, paymentService)

	// === HTTP сервер (REST чтение) ===

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: newRouter(paymentService, readinessCheck),
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

	// Отменяем контекст — останавливаем Kafka Consumer и воркеры
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
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

	log.Info().Msg("Payment Service остановлен")
}

// newRouter собирает Gin router: health + чтение платежей.
func newRouter(payments service.PaymentService, readiness func(context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.Tracing(),
		middleware.Logging(),
		metrics.GinMetricsMiddleware("payment-service"),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-service"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if err := readiness(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/payments/:id", func(c *gin.Context) {
		payment, err := payments.GetPayment(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "payment_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		c.JSON(http.StatusOK, paymentResponse(payment))
	})

	return router
}

// paymentResponse — снимок платежа для REST чтения.
// Статусы сериализуются именем (PENDING, COMPLETED, ...), суммы — в
// десятичном представлении, как на остальной JSON-границе.
func paymentResponse(p *domain.Payment) gin.H {
	resp := gin.H{
		"payment_id":     p.ID,
		"order_id":       p.OrderID,
		"saga_id":        p.SagaID,
		"customer_id":    p.CustomerID,
		"amount":         float64(p.Amount) / 100,
		"currency":       p.Currency,
		"status":         string(p.Status),
		"payment_method": p.PaymentMethod,
		"created_at":     p.CreatedAt,
		"modified_at":    p.UpdatedAt,
	}
	if p.TransactionID != nil {
		resp["transaction_id"] = *p.TransactionID
	}
	if p.FailureReason != nil {
		resp["failure_reason"] = *p.FailureReason
	}
	if p.RefundReason != nil {
		resp["refund_reason"] = *p.RefundReason
	}
	return resp
}

// runStuckPaymentRecovery периодически помечает зависшие платежи как FAILED.
func runStuckPaymentRecovery(ctx context.Context, payments service.PaymentService) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := payments.RecoverStuckPayments(ctx); err != nil {
				logger.Error().Err(err).Msg("Ошибка восстановления зависших платежей")
			}
		}
	}
}
