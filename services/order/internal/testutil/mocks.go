// Package testutil содержит общие моки и утилиты для тестирования.
// Моки вынесены сюда для избежания дублирования (DRY).
// ВАЖНО: этот пакет НЕ должен импортировать saga (circular dependency).
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"example.com/order-saga/services/order/internal/domain"
)

// =============================================================================
// MockOrderRepository — мок для repository.OrderRepository
// =============================================================================

// MockOrderRepository — мок OrderRepository для unit-тестов.
// Используется в saga и service пакетах.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByCustomerID(ctx context.Context, customerID string) ([]*domain.Order, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

// =============================================================================
// MockSagaRepository — мок для repository.SagaRepository
// =============================================================================

// MockSagaRepository — мок SagaRepository для unit-тестов.
type MockSagaRepository struct {
	mock.Mock
}

func (m *MockSagaRepository) StartSaga(ctx context.Context, saga *domain.SagaLog) error {
	return m.Called(ctx, saga).Error(0)
}

func (m *MockSagaRepository) GetBySagaID(ctx context.Context, sagaID string) (*domain.SagaLog, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaLog), args.Error(1)
}

func (m *MockSagaRepository) EndSaga(ctx context.Context, sagaID string, status domain.SagaStatus) error {
	return m.Called(ctx, sagaID, status).Error(0)
}

func (m *MockSagaRepository) LogEvent(ctx context.Context, event *domain.SagaEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockSagaRepository) ListEvents(ctx context.Context, sagaID string) ([]*domain.SagaEvent, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SagaEvent), args.Error(1)
}
