// Package saga содержит unit тесты обработчиков событий саги заказа.
package saga

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/kafka"
	"example.com/order-saga/services/order/internal/domain"
	"example.com/order-saga/services/order/internal/testutil"
)

type (
	MockOrderRepository = testutil.MockOrderRepository
	MockSagaRepository  = testutil.MockSagaRepository
)

func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func newHandlers(t *testing.T) (*Handlers, *MockOrderRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, dbMock := newTestDB(t)
	orderRepo := new(MockOrderRepository)
	return NewHandlers(db, orderRepo, new(MockSagaRepository)), orderRepo, dbMock
}

func envelopeMessage(t *testing.T, eventType events.Type, sagaID string, payload any) *kafka.Message {
	t.Helper()

	env, err := events.New(eventType, &sagaID, payload)
	require.NoError(t, err)
	data, err := env.ToJSON()
	require.NoError(t, err)

	return &kafka.Message{Value: data}
}

func pendingPaymentOrder() *domain.Order {
	sagaID := "saga-1"
	return &domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		Status:     domain.OrderStatusPendingPayment,
		SagaID:     &sagaID,
		Items: []domain.OrderItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: domain.Money{Currency: "USD", Amount: 1000}},
		},
	}
}

// =============================================================================
// PaymentProcessed
// =============================================================================

func TestHandlePayments_Success_AdvancesAndRequestsInventory(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	// UPDATE заказа + событие payment_processed + inventory_requested в
	// outbox + его запись в журнал саги — одна транзакция
	dbMock.ExpectBegin()
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectCommit()

	msg := envelopeMessage(t, events.PaymentProcessed, "saga-1", events.PaymentProcessedPayload{
		OrderID:   "order-1",
		PaymentID: "payment-1",
		Success:   true,
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusPendingInventory, order.Status)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandlePayments_Failure_FailsOrderAndEndsSaga(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `saga_log`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	msg := envelopeMessage(t, events.PaymentProcessed, "saga-1", events.PaymentProcessedPayload{
		OrderID:   "order-1",
		PaymentID: "payment-1",
		Success:   false,
		Message:   "Card declined",
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, "Card declined", order.Metadata["payment_failure_reason"])
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandlePayments_DuplicateDelivery_NoOp(t *testing.T) {
	// Заказ уже в PENDING_INVENTORY: повторная доставка payment_processed
	// не двигает статус и ничего не пишет
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusPendingInventory
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	msg := envelopeMessage(t, events.PaymentProcessed, "saga-1", events.PaymentProcessedPayload{
		OrderID: "order-1", Success: true,
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusPendingInventory, order.Status)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandlePayments_CancelledRace_NoOp(t *testing.T) {
	// Заказ успели отменить: PaymentProcessed(true) не возвращает его
	// в PAYMENT_CONFIRMED
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusCancelled
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	msg := envelopeMessage(t, events.PaymentProcessed, "saga-1", events.PaymentProcessedPayload{
		OrderID: "order-1", Success: true,
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandlePayments_UnknownOrder_Dropped(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	orderRepo.On("GetByID", mock.Anything, "ghost").Return(nil, domain.ErrOrderNotFound)

	msg := envelopeMessage(t, events.PaymentProcessed, "saga-1", events.PaymentProcessedPayload{
		OrderID: "ghost", Success: true,
	})

	// Заказ не существует — лог и ack, без ошибки
	require.NoError(t, h.HandlePayments(context.Background(), msg))
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandlePayments_ForeignEventTypesIgnored(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	msg := envelopeMessage(t, events.PaymentRequested, "saga-1", events.PaymentRequestedPayload{
		OrderID: "order-1",
	})

	require.NoError(t, h.HandlePayments(context.Background(), msg))

	orderRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

// =============================================================================
// InventoryAllocated
// =============================================================================

func TestHandleInventory_Success_CompletesSaga(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusPendingInventory
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `saga_log`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	msg := envelopeMessage(t, events.InventoryAllocated, "saga-1", events.InventoryAllocatedPayload{
		OrderID:        "order-1",
		Success:        true,
		AllocatedItems: map[string]int{"p1": 2},
	})

	require.NoError(t, h.HandleInventory(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusInventoryConfirmed, order.Status)
	assert.Equal(t, map[string]int{"p1": 2}, order.Metadata["allocated_items"])
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandleInventory_Failure_FailsOrderAndRequestsRefund(t *testing.T) {
	// Платёж к этому моменту уже прошёл: отказ склада компенсируется
	// запросом возврата средств
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusPendingInventory
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// payment_refund_requested уходит в outbox
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `saga_log`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	msg := envelopeMessage(t, events.InventoryAllocated, "saga-1", events.InventoryAllocatedPayload{
		OrderID: "order-1",
		Success: false,
		Message: `{"p2":"Insufficient quantity for product p2"}`,
	})

	require.NoError(t, h.HandleInventory(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Contains(t, order.Metadata["inventory_failure_reason"], "Insufficient quantity for product p2")
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandleInventory_DuplicateDelivery_NoOp(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusInventoryConfirmed
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	msg := envelopeMessage(t, events.InventoryAllocated, "saga-1", events.InventoryAllocatedPayload{
		OrderID: "order-1", Success: true,
	})

	require.NoError(t, h.HandleInventory(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusInventoryConfirmed, order.Status)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

// =============================================================================
// OrderShipped
// =============================================================================

func TestHandleShipping_Ships(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	order.Status = domain.OrderStatusInventoryConfirmed
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	dbMock.ExpectBegin()
	dbMock.ExpectExec(regexp.QuoteMeta("UPDATE `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `saga_events`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectCommit()

	msg := envelopeMessage(t, events.OrderShipped, "saga-1", events.OrderShippedPayload{
		OrderID:        "order-1",
		TrackingNumber: "TRACK-123",
	})

	require.NoError(t, h.HandleShipping(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	assert.Equal(t, "TRACK-123", order.Metadata["tracking_number"])
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandleShipping_NotReady_NoOp(t *testing.T) {
	h, orderRepo, dbMock := newHandlers(t)

	order := pendingPaymentOrder()
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	msg := envelopeMessage(t, events.OrderShipped, "saga-1", events.OrderShippedPayload{
		OrderID: "order-1", TrackingNumber: "TRACK-123",
	})

	require.NoError(t, h.HandleShipping(context.Background(), msg))

	assert.Equal(t, domain.OrderStatusPendingPayment, order.Status)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

// =============================================================================
// Конверт
// =============================================================================

func TestHandlePayments_MalformedEnvelope(t *testing.T) {
	h, _, _ := newHandlers(t)

	err := h.HandlePayments(context.Background(), &kafka.Message{Value: []byte("not json")})

	assert.Error(t, err)
}
