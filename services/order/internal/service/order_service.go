// Package service содержит бизнес-логику Order Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/services/order/internal/domain"
	"example.com/order-saga/services/order/internal/eventutil"
	"example.com/order-saga/services/order/internal/repository"
)

// OrderService определяет интерфейс бизнес-логики заказов.
type OrderService interface {
	// CreateOrder создаёт заказ, запускает сагу и публикует OrderCreated +
	// PaymentRequested атомарно (заказ + сага + outbox — одна транзакция).
	// Идемпотентно по idempotencyKey: повторный вызов возвращает существующий заказ.
	CreateOrder(ctx context.Context, customerID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error)

	// GetOrder возвращает снимок заказа, опционально с историей саги.
	GetOrder(ctx context.Context, orderID string, includeSagaHistory bool) (*domain.Order, []*domain.SagaEvent, error)

	// GetCustomerOrders возвращает заказы клиента, отсортированные по created_at DESC.
	GetCustomerOrders(ctx context.Context, customerID string) ([]*domain.Order, error)

	// CancelOrder отменяет заказ. Возвращает обновлённый заказ или
	// ErrOrderShippedCannotCancel/ErrOrderCannotCancel/ErrOrderNotFound.
	CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// orderService — реализация OrderService.
// Держит и репозитории (для чтения), и *gorm.DB (для транзакций записи,
// в рамках которых заказ/сага/outbox должны фиксироваться атомарно).
type orderService struct {
	db        *gorm.DB
	orderRepo repository.OrderRepository
	sagaRepo  repository.SagaRepository
}

// NewOrderService создаёт новый сервис заказов.
func NewOrderService(db *gorm.DB, orderRepo repository.OrderRepository, sagaRepo repository.SagaRepository) OrderService {
	return &orderService{db: db, orderRepo: orderRepo, sagaRepo: sagaRepo}
}

// CreateOrder создаёт заказ в CREATED, запускает сагу, транзакционно
// публикует OrderCreated (на "orders"), затем переводит в PENDING_PAYMENT
// и публикует PaymentRequested (на "payments").
func (s *orderService) CreateOrder(ctx context.Context, customerID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	if idempotencyKey != "" {
		existing, err := s.orderRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			log.Info().Str("order_id", existing.ID).Str("idempotency_key", idempotencyKey).
				Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("проверка идемпотентности: %w", err)
		}
	}

	now := time.Now()
	orderID := uuid.New().String()
	sagaID := uuid.New().String()

	orderItems := make([]domain.OrderItem, len(items))
	for i := range items {
		orderItems[i] = items[i]
		orderItems[i].ID = uuid.New().String()
		orderItems[i].OrderID = orderID
	}

	order := &domain.Order{
		ID:             orderID,
		CustomerID:     customerID,
		Items:          orderItems,
		Status:         domain.OrderStatusCreated,
		SagaID:         &sagaID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.CalculateTotal()

	orderCreatedEnv, orderCreatedOutbox, err := s.buildOrderCreatedOutbox(order)
	if err != nil {
		return nil, fmt.Errorf("сборка события order_created: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := repository.NewOrderRepository(tx)
		txSagas := repository.NewSagaRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "order")

		if err := txOrders.Create(ctx, order); err != nil {
			return err
		}

		if err := txSagas.StartSaga(ctx, &domain.SagaLog{
			SagaID:    sagaID,
			OrderID:   order.ID,
			Status:    domain.SagaStatusStarted,
			StartedAt: now,
		}); err != nil {
			return err
		}

		if err := txOutbox.Create(ctx, orderCreatedOutbox); err != nil {
			return err
		}
		if err := s.logSagaEvent(ctx, txSagas, sagaID, orderCreatedEnv); err != nil {
			return err
		}

		// CreateOrder сразу переводит заказ в PENDING_PAYMENT и публикует
		// PaymentRequested — оба события саги видны наблюдателю вместе.
		if err := order.TransitionTo(domain.OrderStatusPendingPayment); err != nil {
			return err
		}
		if err := txOrders.Update(ctx, order); err != nil {
			return err
		}

		paymentReqEnv, paymentReqOutbox, err := s.buildPaymentRequestedOutbox(order)
		if err != nil {
			return err
		}
		if err := txOutbox.Create(ctx, paymentReqOutbox); err != nil {
			return err
		}
		return s.logSagaEvent(ctx, txSagas, sagaID, paymentReqEnv)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			return nil, err
		}
		log.Error().Err(err).Str("customer_id", customerID).Msg("Ошибка создания заказа")
		return nil, fmt.Errorf("создание заказа: %w", err)
	}

	log.Info().Str("order_id", order.ID).Str("saga_id", sagaID).
		Int64("total_amount", order.TotalAmount.Amount).Msg("Заказ создан, сага запущена")

	return order, nil
}

func (s *orderService) buildOrderCreatedOutbox(order *domain.Order) (*events.Envelope, *outbox.Outbox, error) {
	items := make(map[string]events.ItemPayload, len(order.Items))
	for _, item := range order.Items {
		items[item.ProductID] = events.ItemPayload{
			Quantity:  item.Quantity,
			UnitPrice: minorToMajor(item.UnitPrice.Amount),
		}
	}

	env, err := events.New(events.OrderCreated, order.SagaID, events.OrderCreatedPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: minorToMajor(order.TotalAmount.Amount),
		Items:       items,
	})
	if err != nil {
		return nil, nil, err
	}

	record, err := eventutil.NewOutboxRecord(order.ID, events.TopicOrders, *order.SagaID, env)
	return env, record, err
}

func (s *orderService) buildPaymentRequestedOutbox(order *domain.Order) (*events.Envelope, *outbox.Outbox, error) {
	env, err := events.New(events.PaymentRequested, order.SagaID, events.PaymentRequestedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     minorToMajor(order.TotalAmount.Amount),
	})
	if err != nil {
		return nil, nil, err
	}

	record, err := eventutil.NewOutboxRecord(order.ID, events.TopicPayments, *order.SagaID, env)
	return env, record, err
}

// logSagaEvent пишет строку saga_events для env. Дубликат (saga_id, event_id)
// отбрасывается молча — идемпотентность журнала саги.
func (s *orderService) logSagaEvent(ctx context.Context, sagaRepo repository.SagaRepository, sagaID string, env *events.Envelope) error {
	err := sagaRepo.LogEvent(ctx, &domain.SagaEvent{
		SagaID:    sagaID,
		EventID:   env.EventID,
		EventType: string(env.EventType),
		EventData: env.Payload,
		Timestamp: env.Timestamp,
	})
	if errors.Is(err, domain.ErrDuplicateSagaEvent) {
		return nil
	}
	return err
}

// minorToMajor конвертирует минимальные единицы (копейки/центы) в
// десятичное представление для JSON-границы.
func minorToMajor(amount int64) float64 {
	return float64(amount) / 100
}

// majorToMinor конвертирует десятичное представление границы в минимальные единицы.
func majorToMinor(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

// GetOrder возвращает снимок заказа, опционально с историей саги.
func (s *orderService) GetOrder(ctx context.Context, orderID string, includeSagaHistory bool) (*domain.Order, []*domain.SagaEvent, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	if !includeSagaHistory || order.SagaID == nil {
		return order, nil, nil
	}

	sagaEvents, err := s.sagaRepo.ListEvents(ctx, *order.SagaID)
	if err != nil {
		return nil, nil, fmt.Errorf("получение истории саги: %w", err)
	}

	return order, sagaEvents, nil
}

// GetCustomerOrders возвращает заказы клиента.
func (s *orderService) GetCustomerOrders(ctx context.Context, customerID string) ([]*domain.Order, error) {
	orders, err := s.orderRepo.ListByCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("получение заказов клиента: %w", err)
	}
	return orders, nil
}

// CancelOrder отменяет заказ, публикует OrderCancelled и завершает сагу как FAILED.
func (s *orderService) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := order.Cancel(reason); err != nil {
		log.Warn().Str("order_id", orderID).Str("status", string(order.Status)).Err(err).
			Msg("Попытка отменить заказ в неподходящем статусе")
		return nil, err
	}

	env, err := events.New(events.OrderCancelled, order.SagaID, events.OrderCancelledPayload{
		OrderID: order.ID,
		Reason:  reason,
	})
	if err != nil {
		return nil, fmt.Errorf("сборка события order_cancelled: %w", err)
	}

	key := order.ID
	if order.SagaID != nil {
		key = *order.SagaID
	}
	record, err := eventutil.NewOutboxRecord(order.ID, events.TopicOrders, key, env)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := repository.NewOrderRepository(tx)
		txSagas := repository.NewSagaRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "order")

		if err := txOrders.Update(ctx, order); err != nil {
			return err
		}
		if err := txOutbox.Create(ctx, record); err != nil {
			return err
		}
		if order.SagaID != nil {
			if err := s.logSagaEvent(ctx, txSagas, *order.SagaID, env); err != nil {
				return err
			}
			if err := txSagas.EndSaga(ctx, *order.SagaID, domain.SagaStatusFailed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("сохранение отмены заказа: %w", err)
	}

	log.Info().Str("order_id", orderID).Str("reason", reason).Msg("Заказ отменён")
	return order, nil
}
