// Order Service — микросервис управления заказами, владелец саги заказа.
// Принимает REST запросы (создание/чтение/отмена заказов), слушает
// результаты Payment/Inventory с шины и продвигает сагу до терминального
// исхода. Все события публикуются через транзакционный outbox.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
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
	"example.com/order-saga/services/order/internal/handler"
	"example.com/order-saga/services/order/internal/repository"
	"example.com/order-saga/services/order/internal/saga"
	"example.com/order-saga/services/order/internal/service"
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
	log := logger.With().Str("service", "order-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск Order Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "order-service",
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
			"order-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	orderRepo := repository.NewOrderRepository(gormDB)
	sagaRepo := repository.NewSagaRepository(gormDB)
	orderService := service.NewOrderService(gormDB, orderRepo, sagaRepo)
	sagaHandlers := saga.NewHandlers(gormDB, orderRepo, sagaRepo)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// === Kafka: consumers результатов саги + outbox worker ===

	var consumers []*kafka.Consumer
	var kafkaProducer *kafka.Producer
	var consumerWG sync.WaitGroup

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultSagaTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		// Order Service слушает три темы: результаты платежей, результаты
		// склада и сигналы отгрузки
		subscriptions := []struct {
			topic   string
			handler kafka.MessageHandler
		}{
			{kafka.TopicPayments, sagaHandlers.HandlePayments},
			{kafka.TopicInventory, sagaHandlers.HandleInventory},
			{kafka.TopicShipping, sagaHandlers.HandleShipping},
		}

		for _, sub := range subscriptions {
			consumer, err := kafka.NewConsumer(
				kafka.Config{Brokers: cfg.Kafka.Brokers},
				sub.topic,
				"order-service",
			)
			if err != nil {
				log.Fatal().Err(err).Str("topic", sub.topic).Msg("Ошибка создания Kafka Consumer")
			}
			consumer.SetDLQProducer(kafkaProducer)
			consumers = append(consumers, consumer)

			consumerWG.Add(1)
			go func(topic string, c *kafka.Consumer, h kafka.MessageHandler) {
				defer consumerWG.Done()
				log.Info().Str("topic", topic).Msg("Запуск обработчика событий")
				if err := c.ConsumeWithRetry(ctx, h, 3); err != nil &&
					!errors.Is(err, context.Canceled) {
					log.Error().Err(err).Str("topic", topic).Msg("Ошибка обработчика событий")
				}
			}(sub.topic, consumer, sub.handler)
		}

		// Outbox worker публикует order_created/payment_requested/
		// inventory_requested/order_cancelled/payment_refund_requested
		outboxWorker := outbox.NewOutboxWorker(
			outbox.NewOutboxRepository(gormDB, "order"),
			kafkaProducer,
			outbox.DefaultWorkerConfig(),
			"order",
		)
		go outboxWorker.Run(ctx)
	} else {
		log.Warn().Msg("Kafka не настроена — обработка событий саги отключена")
	}

	// === HTTP сервер ===

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler.NewRouter(handler.NewOrderHandler(orderService, sagaHandlers), readinessCheck),
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

	// Отменяем контекст — consumers дочитывают in-flight сообщения и выходят
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	consumerWG.Wait()
	for _, consumer := range consumers {
		if err := consumer.Close(); err != nil {
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

	log.Info().Msg("Order Service остановлен")
}
