// Package saga содержит обработчики событий саги заказа: реакции Order
// Service на PaymentProcessed/InventoryAllocated/OrderShipped, приходящие
// с шины. Все обработчики идемпотентны.
package saga

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/services/order/internal/domain"
	"example.com/order-saga/services/order/internal/eventutil"
	"example.com/order-saga/services/order/internal/repository"
)

// Handlers реализует реакции Order Service на события других сервисов.
// Каждый Handle* метод — обработчик одной темы: конверт может нести
// разные event_type (в том числе события, публикуемые самим Order
// Service), чужие типы тихо игнорируются.
type Handlers struct {
	db        *gorm.DB
	orderRepo repository.OrderRepository
	sagaRepo  repository.SagaRepository
}

// NewHandlers создаёт обработчики событий саги.
func NewHandlers(db *gorm.DB, orderRepo repository.OrderRepository, sagaRepo repository.SagaRepository) *Handlers {
	return &Handlers{db: db, orderRepo: orderRepo, sagaRepo: sagaRepo}
}

// HandlePayments — обработчик темы "payments". Order Service интересует
// только payment_processed; payment_requested/payment_refund_requested/
// payment_refunded публикуются им самим либо адресованы Payment Service.
func (h *Handlers) HandlePayments(ctx context.Context, msg *kafka.Message) error {
	env, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("разбор конверта: %w", err)
	}

	if env.EventType != events.PaymentProcessed {
		return nil
	}

	var payload events.PaymentProcessedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор payment_processed: %w", err)
	}

	return h.onPaymentProcessed(ctx, env, payload)
}

// HandleInventory — обработчик темы "inventory"; интересует только
// inventory_allocated (inventory_requested/inventory_released принадлежат
// Inventory Service).
func (h *Handlers) HandleInventory(ctx context.Context, msg *kafka.Message) error {
	env, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("разбор конверта: %w", err)
	}

	if env.EventType != events.InventoryAllocated {
		return nil
	}

	var payload events.InventoryAllocatedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор inventory_allocated: %w", err)
	}

	return h.onInventoryAllocated(ctx, env, payload)
}

// HandleShipping — обработчик темы "shipping" (order_shipped).
func (h *Handlers) HandleShipping(ctx context.Context, msg *kafka.Message) error {
	env, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("разбор конверта: %w", err)
	}

	if env.EventType != events.OrderShipped {
		return nil
	}

	var payload events.OrderShippedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор order_shipped: %w", err)
	}

	return h.ShipOrder(ctx, payload.OrderID, payload.TrackingNumber, env)
}

// onPaymentProcessed: success → PAYMENT_CONFIRMED → PENDING_INVENTORY,
// публикует InventoryRequested; failure → FAILED, сага завершается неудачей.
func (h *Handlers) onPaymentProcessed(ctx context.Context, env *events.Envelope, payload events.PaymentProcessedPayload) error {
	log := logger.FromContext(ctx)

	order, err := h.orderRepo.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Warn().Str("order_id", payload.OrderID).Msg("payment_processed для неизвестного заказа, пропуск")
			return nil
		}
		return err
	}

	// Идемпотентность: заказ уже прошёл этот шаг (дубликат доставки либо
	// гонка с отменой) — no-op, наблюдатель увидит согласованное состояние.
	if order.Status != domain.OrderStatusPendingPayment {
		log.Debug().Str("order_id", order.ID).Str("status", string(order.Status)).
			Msg("payment_processed проигнорирован: заказ уже прошёл этот шаг")
		return nil
	}

	if !payload.Success {
		return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txOrders := repository.NewOrderRepository(tx)
			txSagas := repository.NewSagaRepository(tx)

			if err := order.Fail("payment_failure_reason", payload.Message); err != nil {
				return err
			}
			if err := txOrders.Update(ctx, order); err != nil {
				return err
			}
			if err := logSagaEvent(ctx, txSagas, env); err != nil {
				return err
			}
			return endSagaIfPresent(ctx, txSagas, order, domain.SagaStatusFailed)
		})
	}

	if err := order.ConfirmPayment(); err != nil {
		return err
	}
	if err := order.RequestInventory(); err != nil {
		return err
	}

	invEnv, invOutbox, err := h.buildInventoryRequestedOutbox(order)
	if err != nil {
		return err
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := repository.NewOrderRepository(tx)
		txSagas := repository.NewSagaRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "order")

		if err := txOrders.Update(ctx, order); err != nil {
			return err
		}
		if err := logSagaEvent(ctx, txSagas, env); err != nil {
			return err
		}
		if err := txOutbox.Create(ctx, invOutbox); err != nil {
			return err
		}
		return logSagaEvent(ctx, txSagas, invEnv)
	})
}

func (h *Handlers) buildInventoryRequestedOutbox(order *domain.Order) (*events.Envelope, *outbox.Outbox, error) {
	items := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		items[item.ProductID] = int(item.Quantity)
	}

	env, err := events.New(events.InventoryRequested, order.SagaID, events.InventoryRequestedPayload{
		OrderID: order.ID,
		Items:   items,
	})
	if err != nil {
		return nil, nil, err
	}

	key := order.ID
	if order.SagaID != nil {
		key = *order.SagaID
	}
	record, err := eventutil.NewOutboxRecord(order.ID, events.TopicInventory, key, env)
	return env, record, err
}

// onInventoryAllocated: success → INVENTORY_CONFIRMED, сага завершена успехом;
// failure → FAILED, сага завершена неудачей, и — поскольку платёж к этому
// моменту уже прошёл — публикуется PaymentRefundRequested.
func (h *Handlers) onInventoryAllocated(ctx context.Context, env *events.Envelope, payload events.InventoryAllocatedPayload) error {
	log := logger.FromContext(ctx)

	order, err := h.orderRepo.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Warn().Str("order_id", payload.OrderID).Msg("inventory_allocated для неизвестного заказа, пропуск")
			return nil
		}
		return err
	}

	if order.Status != domain.OrderStatusPendingInventory {
		log.Debug().Str("order_id", order.ID).Str("status", string(order.Status)).
			Msg("inventory_allocated проигнорирован: заказ уже прошёл этот шаг")
		return nil
	}

	if payload.Success {
		if err := order.ConfirmInventory(toIntMap(payload.AllocatedItems)); err != nil {
			return err
		}

		return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txOrders := repository.NewOrderRepository(tx)
			txSagas := repository.NewSagaRepository(tx)

			if err := txOrders.Update(ctx, order); err != nil {
				return err
			}
			if err := logSagaEvent(ctx, txSagas, env); err != nil {
				return err
			}
			return endSagaIfPresent(ctx, txSagas, order, domain.SagaStatusCompleted)
		})
	}

	if err := order.Fail("inventory_failure_reason", payload.Message); err != nil {
		return err
	}

	refundEnv, refundOutbox, err := h.buildRefundRequestedOutbox(order, payload.Message)
	if err != nil {
		return err
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := repository.NewOrderRepository(tx)
		txSagas := repository.NewSagaRepository(tx)
		txOutbox := outbox.NewOutboxRepository(tx, "order")

		if err := txOrders.Update(ctx, order); err != nil {
			return err
		}
		if err := logSagaEvent(ctx, txSagas, env); err != nil {
			return err
		}
		if err := txOutbox.Create(ctx, refundOutbox); err != nil {
			return err
		}
		if err := logSagaEvent(ctx, txSagas, refundEnv); err != nil {
			return err
		}
		return endSagaIfPresent(ctx, txSagas, order, domain.SagaStatusFailed)
	})
}

func (h *Handlers) buildRefundRequestedOutbox(order *domain.Order, reason string) (*events.Envelope, *outbox.Outbox, error) {
	env, err := events.New(events.PaymentRefundRequested, order.SagaID, events.PaymentRefundRequestedPayload{
		OrderID: order.ID,
		Reason:  reason,
	})
	if err != nil {
		return nil, nil, err
	}

	key := order.ID
	if order.SagaID != nil {
		key = *order.SagaID
	}
	record, err := eventutil.NewOutboxRecord(order.ID, events.TopicPayments, key, env)
	return env, record, err
}

// ShipOrder переводит заказ в SHIPPED. Вызывается и из HandleShipping
// (событие order_shipped на шине), и напрямую из синхронного HTTP-хендлера
// POST /orders/{id}/ship (отгрузку инициирует внешняя система доставки).
func (h *Handlers) ShipOrder(ctx context.Context, orderID, trackingNumber string, env *events.Envelope) error {
	log := logger.FromContext(ctx)

	order, err := h.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Warn().Str("order_id", orderID).Msg("order_shipped для неизвестного заказа, пропуск")
			return nil
		}
		return err
	}

	if order.Status != domain.OrderStatusInventoryConfirmed {
		log.Debug().Str("order_id", order.ID).Str("status", string(order.Status)).
			Msg("order_shipped проигнорирован: заказ уже отгружен либо не готов к отгрузке")
		return nil
	}

	if err := order.Ship(trackingNumber); err != nil {
		return err
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := repository.NewOrderRepository(tx)
		if err := txOrders.Update(ctx, order); err != nil {
			return err
		}
		if env != nil {
			txSagas := repository.NewSagaRepository(tx)
			return logSagaEvent(ctx, txSagas, env)
		}
		return nil
	})
}

// toIntMap возвращает копию карты payload, не допуская nil.
func toIntMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// logSagaEvent пишет запись saga_events, отбрасывая дубликаты (saga_id, event_id).
func logSagaEvent(ctx context.Context, sagaRepo repository.SagaRepository, env *events.Envelope) error {
	if env.SagaID == nil {
		return nil
	}
	err := sagaRepo.LogEvent(ctx, &domain.SagaEvent{
		SagaID:    *env.SagaID,
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

// endSagaIfPresent завершает сагу заказа терминальным статусом, если у
// заказа есть saga_id. EndSaga сам по себе идемпотентен (ended_at не
// перезаписывается).
func endSagaIfPresent(ctx context.Context, sagaRepo repository.SagaRepository, order *domain.Order, status domain.SagaStatus) error {
	if order.SagaID == nil {
		return nil
	}
	return sagaRepo.EndSaga(ctx, *order.SagaID, status)
}
