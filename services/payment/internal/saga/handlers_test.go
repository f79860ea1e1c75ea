package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/services/payment/internal/domain"
	"example.com/order-saga/services/payment/internal/service"
)

// =============================================================================
// Мок PaymentService
// =============================================================================

type mockPaymentService struct {
	service.PaymentService

	processCalls []service.ProcessPaymentRequest
	processErr   error

	refundCalls []service.RefundPaymentRequest
	refundErr   error
}

func (m *mockPaymentService) ProcessPayment(ctx context.Context, req service.ProcessPaymentRequest) (*service.ProcessPaymentResult, error) {
	m.processCalls = append(m.processCalls, req)
	if m.processErr != nil {
		return nil, m.processErr
	}
	return &service.ProcessPaymentResult{PaymentID: "payment-1", Success: true}, nil
}

func (m *mockPaymentService) RefundPayment(ctx context.Context, req service.RefundPaymentRequest) error {
	m.refundCalls = append(m.refundCalls, req)
	return m.refundErr
}

func envelopeMessage(t *testing.T, eventType events.Type, sagaID *string, payload any) *kafka.Message {
	t.Helper()

	env, err := events.New(eventType, sagaID, payload)
	require.NoError(t, err)
	data, err := env.ToJSON()
	require.NoError(t, err)

	return &kafka.Message{Value: data, Topic: events.TopicPayments}
}

// =============================================================================
// HandlePayments
// =============================================================================

func TestHandlePayments_PaymentRequested(t *testing.T) {
	svc := &mockPaymentService{}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.PaymentRequested, &sagaID, events.PaymentRequestedPayload{
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Amount:     40.0,
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	require.Len(t, svc.processCalls, 1)
	req := svc.processCalls[0]
	assert.Equal(t, "order-1", req.OrderID)
	assert.Equal(t, "customer-1", req.CustomerID)
	assert.Equal(t, "saga-1", req.SagaID)
	// Десятичные единицы JSON-границы конвертируются в минимальные
	assert.Equal(t, int64(4000), req.Amount)
}

func TestHandlePayments_TransientErrorPropagated(t *testing.T) {
	// Транзиентная ошибка возвращается наверх — consumer повторит/отправит в DLQ
	svc := &mockPaymentService{processErr: errors.New("db connection lost")}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.PaymentRequested, &sagaID, events.PaymentRequestedPayload{
		OrderID: "order-1", CustomerID: "customer-1", Amount: 10,
	})

	assert.Error(t, h.HandlePayments(context.Background(), msg))
}

func TestHandlePayments_InvalidAmountDropped(t *testing.T) {
	// Невалидный запрос не ретраится (poison pill) — подтверждаем без ошибки
	svc := &mockPaymentService{processErr: domain.ErrInvalidAmount}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.PaymentRequested, &sagaID, events.PaymentRequestedPayload{
		OrderID: "order-1", CustomerID: "customer-1", Amount: -5,
	})

	assert.NoError(t, h.HandlePayments(context.Background(), msg))
}

func TestHandlePayments_RefundRequested(t *testing.T) {
	svc := &mockPaymentService{}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.PaymentRefundRequested, &sagaID, events.PaymentRefundRequestedPayload{
		OrderID: "order-1",
		Reason:  "Insufficient quantity for product p2",
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	require.Len(t, svc.refundCalls, 1)
	assert.Equal(t, "order-1", svc.refundCalls[0].OrderID)
	assert.Equal(t, "saga-1", svc.refundCalls[0].SagaID)
	assert.Equal(t, "Insufficient quantity for product p2", svc.refundCalls[0].Reason)
}

func TestHandlePayments_RefundNotFoundDropped(t *testing.T) {
	// Платёж не существует (заказ провалился до списания) — лог и ack
	svc := &mockPaymentService{refundErr: domain.ErrPaymentNotFound}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.PaymentRefundRequested, &sagaID, events.PaymentRefundRequestedPayload{
		OrderID: "order-404", Reason: "причина",
	})

	assert.NoError(t, h.HandlePayments(context.Background(), msg))
}

func TestHandlePayments_OwnEventsIgnored(t *testing.T) {
	// payment_processed/payment_refunded публикует сам Payment Service —
	// на общей теме они тихо пропускаются
	svc := &mockPaymentService{}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	for _, eventType := range []events.Type{events.PaymentProcessed, events.PaymentRefunded} {
		msg := envelopeMessage(t, eventType, &sagaID, events.PaymentProcessedPayload{OrderID: "order-1"})
		require.NoError(t, h.HandlePayments(context.Background(), msg))
	}

	assert.Empty(t, svc.processCalls)
	assert.Empty(t, svc.refundCalls)
}

func TestHandlePayments_MalformedEnvelope(t *testing.T) {
	h := NewHandlers(&mockPaymentService{})

	err := h.HandlePayments(context.Background(), &kafka.Message{Value: []byte("not json")})

	assert.Error(t, err)
}
