// Package service содержит бизнес-логику Payment Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/services/payment/internal/domain"
	"example.com/order-saga/services/payment/internal/gateway"
	"example.com/order-saga/services/payment/internal/repository"
)

// =============================================================================
// Конфигурация
// =============================================================================

const (
	// idempotencyKeyPrefix — префикс для ключей идемпотентности в Redis.
	idempotencyKeyPrefix = "payment:idempotency:"

	// idempotencyTTL — время жизни ключа идемпотентности (24 часа).
	idempotencyTTL = 24 * time.Hour

	// defaultGatewayTimeout — таймаут обращения к платёжному провайдеру.
	// По истечении обработчик идёт по ветке отказа, а не зависает.
	defaultGatewayTimeout = 10 * time.Second

	// defaultPaymentMethod — метод оплаты по умолчанию.
	defaultPaymentMethod = "card"

	// defaultCurrency — валюта по умолчанию.
	defaultCurrency = "USD"
)

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// ProcessPaymentRequest — запрос на обработку платежа (payment_requested).
type ProcessPaymentRequest struct {
	SagaID     string // ID саги для корреляции
	OrderID    string // ID заказа
	CustomerID string // ID клиента
	Amount     int64  // Сумма в минимальных единицах
	Currency   string // Валюта (пустая строка = USD)
}

// ProcessPaymentResult — результат обработки платежа.
type ProcessPaymentResult struct {
	PaymentID     string // ID платежа
	Success       bool   // Успешность операции
	FailureReason string // Причина ошибки (если !Success)
	AlreadyExists bool   // true если платёж уже был обработан (идемпотентность)
}

// RefundPaymentRequest — запрос на возврат платежа (payment_refund_requested).
type RefundPaymentRequest struct {
	OrderID string // ID заказа
	SagaID  string // ID саги
	Reason  string // Причина возврата
}

// PaymentService — интерфейс бизнес-логики платежей.
type PaymentService interface {
	// ProcessPayment обрабатывает платёж для саги и публикует payment_processed
	// через outbox. Идемпотентная операция: повторный вызов для той же пары
	// (order_id, saga_id) переопубликовывает прежний результат без повторного списания.
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ProcessPaymentResult, error)

	// RefundPayment выполняет возврат завершённого платежа и публикует
	// payment_refunded через outbox.
	RefundPayment(ctx context.Context, req RefundPaymentRequest) error

	// GetPayment возвращает платёж по ID.
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetPaymentBySagaID возвращает платёж по ID саги.
	GetPaymentBySagaID(ctx context.Context, sagaID string) (*domain.Payment, error)

	// RecoverStuckPayments помечает зависшие платежи как FAILED и публикует результат.
	RecoverStuckPayments(ctx context.Context) (int, error)
}

// paymentService — реализация PaymentService.
// Держит и репозиторий (для чтения), и *gorm.DB: финальный статус платежа
// и запись outbox с payment_processed фиксируются одной транзакцией.
type paymentService struct {
	db             *gorm.DB
	repo           repository.PaymentRepository
	redis          *redis.Client
	gateway        gateway.PaymentGateway
	gatewayTimeout time.Duration
}

// NewPaymentService создаёт новый сервис платежей.
func NewPaymentService(db *gorm.DB, repo repository.PaymentRepository, rdb *redis.Client, gw gateway.PaymentGateway) PaymentService {
	return &paymentService{
		db:             db,
		repo:           repo,
		redis:          rdb,
		gateway:        gw,
		gatewayTimeout: defaultGatewayTimeout,
	}
}

// ProcessPayment обрабатывает платёж: PENDING → PROCESSING → вызов провайдера
// → {COMPLETED | FAILED} → публикация payment_processed.
func (s *paymentService) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ProcessPaymentResult, error) {
	log := logger.Ctx(ctx)

	if req.Currency == "" {
		req.Currency = defaultCurrency
	}

	// 1. Быстрая проверка идемпотентности через Redis (SETNX с TTL).
	// При ошибке Redis продолжаем — UNIQUE (order_id, saga_id) в БД защитит от дубликатов.
	idempotencyKey := idempotencyKeyPrefix + req.OrderID + ":" + req.SagaID
	wasSet, err := s.redis.SetNX(ctx, idempotencyKey, "processing", idempotencyTTL).Result()
	if err != nil {
		log.Error().Err(err).Str("saga_id", req.SagaID).Msg("Ошибка Redis при проверке идемпотентности")
	}

	if !wasSet && err == nil {
		if result, ok := s.republishSettled(ctx, req); ok {
			return result, nil
		}
		// Платёж не найден или ещё обрабатывается — продолжаем, БД разрешит гонку
	}

	// 2. Создаём платёж в статусе PENDING
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       req.OrderID,
		SagaID:        req.SagaID,
		CustomerID:    req.CustomerID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.PaymentStatusPending,
		PaymentMethod: defaultPaymentMethod,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := payment.Validate(); err != nil {
		log.Warn().Err(err).Str("saga_id", req.SagaID).Msg("Невалидные данные платежа")
		return nil, err
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			if result, ok := s.republishSettled(ctx, req); ok {
				log.Info().Str("saga_id", req.SagaID).Msg("Платёж уже существует (гонка при создании)")
				return result, nil
			}
			// Существующий платёж ещё в PENDING/PROCESSING — другой воркер
			// обрабатывает его прямо сейчас; nack и повтор позже.
			return nil, domain.ErrDuplicatePayment
		}
		log.Error().Err(err).Str("saga_id", req.SagaID).Msg("Ошибка создания платежа")
		return nil, fmt.Errorf("ошибка создания платежа: %w", err)
	}

	// 3. Переводим в PROCESSING перед обращением к провайдеру
	if err := payment.StartProcessing(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("ошибка обновления статуса платежа: %w", err)
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("saga_id", req.SagaID).
		Int64("amount", req.Amount).
		Msg("Платёж создан, обращаемся к провайдеру")

	// 4. Вызываем провайдера с таймаутом; сбой/паника — это ветка отказа,
	// платёж всё равно сохраняется и результат публикуется
	result := s.callGateway(ctx, payment)

	// 5. Финализируем статус
	if result.Success {
		if err := payment.Complete(result.TransactionID); err != nil {
			return nil, fmt.Errorf("ошибка перехода в COMPLETED: %w", err)
		}
	} else {
		if err := payment.Fail(result.Message); err != nil {
			return nil, fmt.Errorf("ошибка перехода в FAILED: %w", err)
		}
	}

	// 6. Статус платежа + payment_processed в outbox — одна транзакция
	if err := s.persistAndPublishProcessed(ctx, payment); err != nil {
		return nil, err
	}

	// 7. Обновляем Redis — сохраняем ID платежа
	if err := s.redis.Set(ctx, idempotencyKey, payment.ID, idempotencyTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("Ошибка обновления ключа идемпотентности в Redis")
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("status", string(payment.Status)).
		Bool("success", result.Success).
		Msg("Платёж обработан")

	return &ProcessPaymentResult{
		PaymentID:     payment.ID,
		Success:       result.Success,
		FailureReason: s.failureReason(payment),
	}, nil
}

// callGateway обращается к платёжному провайдеру с таймаутом и защитой от
// паники. Любой сбой (ошибка сети, таймаут, паника) трактуется как отказ
// с сообщением "Payment processing error: <e>".
func (s *paymentService) callGateway(ctx context.Context, payment *domain.Payment) (result *gateway.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Ctx(ctx).Error().
				Str("payment_id", payment.ID).
				Interface("panic", r).
				Msg("Паника при обращении к платёжному провайдеру")
			result = &gateway.Result{
				Success: false,
				Message: fmt.Sprintf("Payment processing error: %v", r),
			}
		}
	}()

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	res, err := s.gateway.ProcessPayment(gwCtx, payment.ID, payment.Amount, payment.CustomerID)
	if err != nil {
		return &gateway.Result{
			Success: false,
			Message: fmt.Sprintf("Payment processing error: %v", err),
		}
	}
	return res
}

// persistAndPublishProcessed сохраняет финальный статус платежа и запись
// payment_processed в outbox одной транзакцией.
func (s *paymentService) persistAndPublishProcessed(ctx context.Context, payment *domain.Payment) error {
	record, err := s.buildProcessedOutbox(payment)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := repository.NewPaymentRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "payment")

		if err := txRepo.Update(ctx, payment); err != nil {
			return err
		}
		return txOutbox.Create(ctx, record)
	})
}

// republishSettled проверяет существующий платёж для (order_id, saga_id):
// если его обработка уже завершилась, прежний результат переопубликовывается
// в outbox (повторная доставка не списывает деньги второй раз).
func (s *paymentService) republishSettled(ctx context.Context, req ProcessPaymentRequest) (*ProcessPaymentResult, bool) {
	log := logger.Ctx(ctx)

	existing, err := s.repo.GetByOrderAndSaga(ctx, req.OrderID, req.SagaID)
	if err != nil {
		return nil, false
	}
	if !existing.Status.IsSettled() {
		return nil, false
	}

	record, err := s.buildProcessedOutbox(existing)
	if err != nil {
		log.Error().Err(err).Str("payment_id", existing.ID).Msg("Ошибка сборки повторного payment_processed")
		return nil, false
	}
	if err := outbox.NewOutboxRepository(s.db, "payment").Create(ctx, record); err != nil {
		log.Error().Err(err).Str("payment_id", existing.ID).Msg("Ошибка повторной публикации payment_processed")
		return nil, false
	}

	log.Info().
		Str("payment_id", existing.ID).
		Str("saga_id", req.SagaID).
		Msg("Платёж уже обработан — прежний результат переопубликован")

	return &ProcessPaymentResult{
		PaymentID:     existing.ID,
		Success:       existing.Status == domain.PaymentStatusCompleted,
		FailureReason: s.failureReason(existing),
		AlreadyExists: true,
	}, true
}

// buildProcessedOutbox формирует запись outbox с событием payment_processed.
func (s *paymentService) buildProcessedOutbox(payment *domain.Payment) (*outbox.Outbox, error) {
	success := payment.Status == domain.PaymentStatusCompleted
	message := "payment completed"
	if !success {
		message = s.failureReason(payment)
	}

	sagaID := payment.SagaID
	env, err := events.New(events.PaymentProcessed, &sagaID, events.PaymentProcessedPayload{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Success:   success,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}

	return s.outboxRecord(payment, env)
}

// RefundPayment выполняет возврат платежа: допустим только из COMPLETED.
// Повторный запрос для уже возвращённого платежа — no-op.
func (s *paymentService) RefundPayment(ctx context.Context, req RefundPaymentRequest) error {
	log := logger.Ctx(ctx)

	payment, err := s.repo.GetByOrderAndSaga(ctx, req.OrderID, req.SagaID)
	if err != nil {
		return err
	}

	if payment.Status == domain.PaymentStatusRefunded {
		log.Debug().Str("payment_id", payment.ID).Msg("Платёж уже возвращён, повторный запрос проигнорирован")
		return nil
	}
	if payment.Status != domain.PaymentStatusCompleted {
		log.Warn().
			Str("payment_id", payment.ID).
			Str("status", string(payment.Status)).
			Msg("Возврат невозможен: платёж не завершён")
		return domain.ErrRefundNotAllowed
	}

	// Возврат через провайдера по transaction_id исходного списания
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	if _, err := s.gateway.RefundPayment(gwCtx, *payment.TransactionID, payment.Amount); err != nil {
		return fmt.Errorf("ошибка возврата у провайдера: %w", err)
	}

	refundID := uuid.New().String()
	if err := payment.Refund(refundID, req.Reason); err != nil {
		return err
	}

	record, err := s.buildRefundedOutbox(payment, req.Reason)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := repository.NewPaymentRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "payment")

		if err := txRepo.Update(ctx, payment); err != nil {
			return err
		}
		return txOutbox.Create(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("сохранение возврата платежа: %w", err)
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("refund_id", refundID).
		Msg("Возврат платежа выполнен")

	return nil
}

// buildRefundedOutbox формирует запись outbox с событием payment_refunded.
func (s *paymentService) buildRefundedOutbox(payment *domain.Payment, reason string) (*outbox.Outbox, error) {
	sagaID := payment.SagaID
	env, err := events.New(events.PaymentRefunded, &sagaID, events.PaymentRefundedPayload{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    float64(payment.Amount) / 100,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}

	return s.outboxRecord(payment, env)
}

// outboxRecord формирует запись outbox для envelope. Ключ партиционирования —
// saga_id (события одной саги сериализуются в одной партиции).
func (s *paymentService) outboxRecord(payment *domain.Payment, env *events.Envelope) (*outbox.Outbox, error) {
	payload, err := env.ToJSON()
	if err != nil {
		return nil, err
	}

	key := payment.SagaID
	if key == "" {
		key = payment.OrderID
	}

	return &outbox.Outbox{
		ID:            env.EventID,
		AggregateType: "payment",
		AggregateID:   payment.ID,
		EventType:     string(env.EventType),
		Topic:         events.TopicPayments,
		MessageKey:    key,
		Payload:       payload,
	}, nil
}

// GetPayment возвращает платёж по ID.
func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

// GetPaymentBySagaID возвращает платёж по ID саги.
func (s *paymentService) GetPaymentBySagaID(ctx context.Context, sagaID string) (*domain.Payment, error) {
	return s.repo.GetBySagaID(ctx, sagaID)
}

// RecoverStuckPayments помечает зависшие платежи как FAILED и публикует
// payment_processed{success:false}, чтобы сага не осталась без ответа.
// Платёж считается зависшим, если он не финализирован более 5 минут
// (воркер упал между созданием и обращением к провайдеру).
func (s *paymentService) RecoverStuckPayments(ctx context.Context) (int, error) {
	log := logger.Ctx(ctx)

	stuckPayments, err := s.repo.GetStuckPending(ctx, 5*time.Minute, 100)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения зависших платежей: %w", err)
	}

	if len(stuckPayments) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, payment := range stuckPayments {
		// PENDING нельзя перевести в FAILED напрямую — сначала PROCESSING
		if payment.Status == domain.PaymentStatusPending {
			if err := payment.StartProcessing(); err != nil {
				continue
			}
		}
		if err := payment.Fail("таймаут обработки платежа"); err != nil {
			log.Warn().Err(err).Str("payment_id", payment.ID).Msg("Не удалось пометить платёж как FAILED")
			continue
		}

		if err := s.persistAndPublishProcessed(ctx, payment); err != nil {
			log.Warn().Err(err).Str("payment_id", payment.ID).Msg("Ошибка обновления зависшего платежа")
			continue
		}

		log.Info().
			Str("payment_id", payment.ID).
			Str("saga_id", payment.SagaID).
			Msg("Зависший платёж помечен как FAILED")
		recovered++
	}

	if recovered > 0 {
		log.Info().Int("count", recovered).Msg("Восстановлено зависших платежей")
	}

	return recovered, nil
}

// failureReason возвращает причину ошибки или пустую строку.
func (s *paymentService) failureReason(p *domain.Payment) string {
	if p.FailureReason != nil {
		return *p.FailureReason
	}
	return ""
}
