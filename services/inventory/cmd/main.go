// Inventory Service — микросервис управления складом.
// Слушает inventory_requested из темы inventory, резервирует товары
// с компенсацией при частичном отказе и публикует результат через outbox.
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
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/metrics"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/pkg/tracing"
	"example.com/order-saga/services/inventory/internal/handler"
	"example.com/order-saga/services/inventory/internal/repository"
	"example.com/order-saga/services/inventory/internal/saga"
	"example.com/order-saga/services/inventory/internal/service"
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

	log := logger.With().Str("service", "inventory-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск Inventory Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "inventory-service",
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

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"inventory-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	productRepo := repository.NewProductRepository(gormDB)
	inventoryService := service.NewInventoryService(gormDB, productRepo)
	handlers := saga.NewHandlers(inventoryService)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// === Kafka: consumer темы inventory + outbox worker ===

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
			kafka.TopicInventory,
			"inventory-service",
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		kafkaConsumer.SetDLQProducer(kafkaProducer)

		go func() {
			log.Info().Msg("Запуск обработчика событий inventory")
			if err := kafkaConsumer.ConsumeWithRetry(ctx, handlers.HandleInventory, 3); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка обработчика событий inventory")
			}
		}()

		// Outbox worker публикует inventory_allocated/inventory_released
		outboxWorker := outbox.NewOutboxWorker(
			outbox.NewOutboxRepository(gormDB, "inventory"),
			kafkaProducer,
			outbox.DefaultWorkerConfig(),
			"inventory",
		)
		go outboxWorker.Run(ctx)
	} else {
		log.Warn().Msg("Kafka не настроена — обработка событий саги отключена")
	}

	// === HTTP сервер ===

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler.NewRouter(handler.NewInventoryHandler(inventoryService), readinessCheck),
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

	log.Info().Msg("Inventory Service остановлен")
}
