// Package saga содержит обработчики событий саги для Inventory Service:
// реакция на inventory_requested с шины.
package saga

import (
	"context"
	"errors"
	"fmt"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/services/inventory/internal/domain"
	"example.com/order-saga/services/inventory/internal/service"
)

// Handlers реализует реакции Inventory Service на события шины.
type Handlers struct {
	inventory service.InventoryService
}

// NewHandlers создаёт обработчики событий склада.
func NewHandlers(inventory service.InventoryService) *Handlers {
	return &Handlers{inventory: inventory}
}

// HandleInventory — обработчик темы "inventory". Inventory Service
// интересует только inventory_requested; inventory_allocated и
// inventory_released публикуются им самим и тихо пропускаются.
func (h *Handlers) HandleInventory(ctx context.Context, msg *kafka.Message) error {
	env, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("разбор конверта: %w", err)
	}

	if env.EventType != events.InventoryRequested {
		return nil
	}

	return h.onInventoryRequested(ctx, env)
}

// onInventoryRequested резервирует товары заказа и публикует результат.
func (h *Handlers) onInventoryRequested(ctx context.Context, env *events.Envelope) error {
	log := logger.FromContext(ctx)

	var payload events.InventoryRequestedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор inventory_requested: %w", err)
	}

	result, err := h.inventory.AllocateInventory(ctx, service.AllocateRequest{
		OrderID: payload.OrderID,
		SagaID:  env.SagaID,
		Items:   payload.Items,
	})
	if err != nil {
		// Пустой список позиций ретраить бессмысленно — лог и ack
		if errors.Is(err, domain.ErrInvalidQuantity) {
			log.Error().Err(err).Str("order_id", payload.OrderID).
				Msg("inventory_requested с невалидными данными, отброшено")
			return nil
		}
		return err
	}

	log.Info().
		Str("order_id", payload.OrderID).
		Bool("success", result.Success).
		Bool("already_exists", result.AlreadyExists).
		Msg("inventory_requested обработан")

	return nil
}
