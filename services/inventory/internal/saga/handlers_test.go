package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/services/inventory/internal/domain"
	"example.com/order-saga/services/inventory/internal/service"
)

// mockInventoryService — мок InventoryService для тестов обработчика.
type mockInventoryService struct {
	service.InventoryService

	allocateCalls []service.AllocateRequest
	allocateErr   error
}

func (m *mockInventoryService) AllocateInventory(ctx context.Context, req service.AllocateRequest) (*service.AllocationResult, error) {
	m.allocateCalls = append(m.allocateCalls, req)
	if m.allocateErr != nil {
		return nil, m.allocateErr
	}
	return &service.AllocationResult{Success: true, AllocatedItems: req.Items}, nil
}

func envelopeMessage(t *testing.T, eventType events.Type, sagaID *string, payload any) *kafka.Message {
	t.Helper()

	env, err := events.New(eventType, sagaID, payload)
	require.NoError(t, err)
	data, err := env.ToJSON()
	require.NoError(t, err)

	return &kafka.Message{Value: data, Topic: events.TopicInventory}
}

func TestHandleInventory_Requested(t *testing.T) {
	svc := &mockInventoryService{}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.InventoryRequested, &sagaID, events.InventoryRequestedPayload{
		OrderID: "order-1",
		Items:   map[string]int{"p1": 2, "p2": 1},
	})

	require.NoError(t, h.HandleInventory(context.Background(), msg))

	require.Len(t, svc.allocateCalls, 1)
	req := svc.allocateCalls[0]
	assert.Equal(t, "order-1", req.OrderID)
	require.NotNil(t, req.SagaID)
	assert.Equal(t, "saga-1", *req.SagaID)
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, req.Items)
}

func TestHandleInventory_TransientErrorPropagated(t *testing.T) {
	svc := &mockInventoryService{allocateErr: errors.New("db connection lost")}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.InventoryRequested, &sagaID, events.InventoryRequestedPayload{
		OrderID: "order-1",
		Items:   map[string]int{"p1": 1},
	})

	assert.Error(t, h.HandleInventory(context.Background(), msg))
}

func TestHandleInventory_InvalidDropped(t *testing.T) {
	// Пустой список позиций — poison pill, подтверждаем без ошибки
	svc := &mockInventoryService{allocateErr: domain.ErrInvalidQuantity}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	msg := envelopeMessage(t, events.InventoryRequested, &sagaID, events.InventoryRequestedPayload{
		OrderID: "order-1",
		Items:   map[string]int{},
	})

	assert.NoError(t, h.HandleInventory(context.Background(), msg))
}

func TestHandleInventory_OwnEventsIgnored(t *testing.T) {
	svc := &mockInventoryService{}
	h := NewHandlers(svc)

	sagaID := "saga-1"
	for _, eventType := range []events.Type{events.InventoryAllocated, events.InventoryReleased} {
		msg := envelopeMessage(t, eventType, &sagaID, events.InventoryAllocatedPayload{OrderID: "order-1"})
		require.NoError(t, h.HandleInventory(context.Background(), msg))
	}

	assert.Empty(t, svc.allocateCalls)
}

func TestHandleInventory_MalformedEnvelope(t *testing.T) {
	h := NewHandlers(&mockInventoryService{})

	err := h.HandleInventory(context.Background(), &kafka.Message{Value: []byte("{broken")})

	assert.Error(t, err)
}
