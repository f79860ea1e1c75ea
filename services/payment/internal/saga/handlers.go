// Package saga содержит обработчики событий саги для Payment Service:
// реакции на payment_requested и payment_refund_requested с шины.
// Обработчики идемпотентны — повторная доставка не списывает деньги повторно.
package saga

import (
	"context"
	"errors"
	"fmt"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/services/payment/internal/domain"
	"example.com/order-saga/services/payment/internal/service"
)

// Handlers реализует реакции Payment Service на события шины.
type Handlers struct {
	payments service.PaymentService
}

// NewHandlers создаёт обработчики событий платежей.
func NewHandlers(payments service.PaymentService) *Handlers {
	return &Handlers{payments: payments}
}

// HandlePayments — обработчик темы "payments". Payment Service интересуют
// payment_requested и payment_refund_requested; payment_processed и
// payment_refunded публикуются им самим и тихо пропускаются.
func (h *Handlers) HandlePayments(ctx context.Context, msg *kafka.Message) error {
	env, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("разбор конверта: %w", err)
	}

	switch env.EventType {
	case events.PaymentRequested:
		return h.onPaymentRequested(ctx, env)
	case events.PaymentRefundRequested:
		return h.onRefundRequested(ctx, env)
	default:
		return nil
	}
}

// onPaymentRequested обрабатывает платёж и публикует payment_processed.
func (h *Handlers) onPaymentRequested(ctx context.Context, env *events.Envelope) error {
	log := logger.FromContext(ctx)

	var payload events.PaymentRequestedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор payment_requested: %w", err)
	}

	sagaID := ""
	if env.SagaID != nil {
		sagaID = *env.SagaID
	}

	// Запрос без обязательных идентификаторов ретраить бессмысленно —
	// логируем и подтверждаем, чтобы не зациклить сообщение (poison pill)
	if payload.OrderID == "" || payload.CustomerID == "" || sagaID == "" {
		log.Error().Str("order_id", payload.OrderID).
			Msg("payment_requested с невалидными данными, отброшено")
		return nil
	}

	result, err := h.payments.ProcessPayment(ctx, service.ProcessPaymentRequest{
		SagaID:     sagaID,
		OrderID:    payload.OrderID,
		CustomerID: payload.CustomerID,
		Amount:     int64(payload.Amount*100 + 0.5),
	})
	if err != nil {
		// Невалидный запрос ретраить бессмысленно — логируем и подтверждаем,
		// чтобы не зациклить сообщение (poison pill)
		if errors.Is(err, domain.ErrInvalidAmount) {
			log.Error().Err(err).Str("order_id", payload.OrderID).
				Msg("payment_requested с невалидными данными, отброшено")
			return nil
		}
		return err
	}

	log.Info().
		Str("order_id", payload.OrderID).
		Str("payment_id", result.PaymentID).
		Bool("success", result.Success).
		Bool("already_exists", result.AlreadyExists).
		Msg("payment_requested обработан")

	return nil
}

// onRefundRequested выполняет компенсирующий возврат платежа.
func (h *Handlers) onRefundRequested(ctx context.Context, env *events.Envelope) error {
	log := logger.FromContext(ctx)

	var payload events.PaymentRefundRequestedPayload
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("разбор payment_refund_requested: %w", err)
	}

	if env.SagaID == nil {
		log.Warn().Str("order_id", payload.OrderID).
			Msg("payment_refund_requested без saga_id, пропуск")
		return nil
	}

	err := h.payments.RefundPayment(ctx, service.RefundPaymentRequest{
		OrderID: payload.OrderID,
		SagaID:  *env.SagaID,
		Reason:  payload.Reason,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrPaymentNotFound):
		// Платёж не существует (заказ провалился до списания) — дропаем
		log.Warn().Str("order_id", payload.OrderID).Msg("Возврат для несуществующего платежа, пропуск")
		return nil
	case errors.Is(err, domain.ErrRefundNotAllowed):
		// Платёж не был завершён — возвращать нечего
		log.Warn().Str("order_id", payload.OrderID).Msg("Возврат для незавершённого платежа, пропуск")
		return nil
	default:
		return err
	}
}
