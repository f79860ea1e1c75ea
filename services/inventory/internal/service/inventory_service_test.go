package service

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/order-saga/services/inventory/internal/domain"
)

// =============================================================================
// Тестовая инфраструктура: in-memory репозиторий + sqlmock для журнала/outbox
// =============================================================================

// mockProductRepository — потокобезопасный склад в памяти. Повторяет
// семантику условного UPDATE: списание атомарно и не уводит остаток в минус.
type mockProductRepository struct {
	mu     sync.Mutex
	stocks map[string]int
}

func newMockRepo(stocks map[string]int) *mockProductRepository {
	copied := make(map[string]int, len(stocks))
	for k, v := range stocks {
		copied[k] = v
	}
	return &mockProductRepository{stocks: copied}
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[product.ID] = product.Quantity
	return nil
}

func (m *mockProductRepository) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quantity, ok := m.stocks[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &domain.Product{ID: productID, Quantity: quantity}, nil
}

func (m *mockProductRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return nil, domain.ErrProductNotFound
}

func (m *mockProductRepository) List(ctx context.Context, limit, offset int) ([]*domain.Product, error) {
	return nil, nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product) error {
	return nil
}

func (m *mockProductRepository) AllocateQuantity(ctx context.Context, productID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quantity, ok := m.stocks[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if quantity < n {
		return domain.ErrInsufficientQuantity
	}
	m.stocks[productID] = quantity - n
	return nil
}

func (m *mockProductRepository) ReleaseQuantity(ctx context.Context, productID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stocks[productID]; !ok {
		return domain.ErrProductNotFound
	}
	m.stocks[productID] += n
	return nil
}

func (m *mockProductRepository) stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[productID]
}

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

// expectNoPriorAllocation — SELECT журнала аллокаций ничего не находит.
func expectNoPriorAllocation(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory_allocations`")).
		WillReturnError(gorm.ErrRecordNotFound)
}

// expectPersistTx — транзакция записи журнала аллокации + outbox.
func expectPersistTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `inventory_allocations`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func sagaID(s string) *string { return &s }

// =============================================================================
// AllocateInventory
// =============================================================================

func TestAllocateInventory_Success(t *testing.T) {
	repo := newMockRepo(map[string]int{"p1": 100, "p2": 50})
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	expectNoPriorAllocation(mock)
	expectPersistTx(mock)

	result, err := svc.AllocateInventory(context.Background(), AllocateRequest{
		OrderID: "order-1",
		SagaID:  sagaID("saga-1"),
		Items:   map[string]int{"p1": 2, "p2": 1},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, result.AllocatedItems)
	assert.Empty(t, result.FailedItems)
	assert.Equal(t, 98, repo.stock("p1"))
	assert.Equal(t, 49, repo.stock("p2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateInventory_PartialFailureRollsBack(t *testing.T) {
	// p2 не хватает: p1 успевает списаться, но компенсация возвращает
	// остатки в точности к состоянию до команды
	repo := newMockRepo(map[string]int{"p1": 100, "p2": 10})
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	expectNoPriorAllocation(mock)
	expectPersistTx(mock)

	result, err := svc.AllocateInventory(context.Background(), AllocateRequest{
		OrderID: "order-1",
		SagaID:  sagaID("saga-1"),
		Items:   map[string]int{"p1": 5, "p2": 200},
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.AllocatedItems)
	assert.Contains(t, result.Message, "Insufficient quantity for product p2")
	assert.Equal(t, 100, repo.stock("p1"))
	assert.Equal(t, 10, repo.stock("p2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateInventory_ProductNotFound(t *testing.T) {
	repo := newMockRepo(map[string]int{"p1": 100})
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	expectNoPriorAllocation(mock)
	expectPersistTx(mock)

	result, err := svc.AllocateInventory(context.Background(), AllocateRequest{
		OrderID: "order-1",
		Items:   map[string]int{"p1": 5, "ghost": 1},
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Product ghost not found")
	assert.Equal(t, 100, repo.stock("p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateInventory_EmptyItems(t *testing.T) {
	repo := newMockRepo(nil)
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	_, err := svc.AllocateInventory(context.Background(), AllocateRequest{
		OrderID: "order-1",
		Items:   map[string]int{},
	})

	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateInventory_Idempotent(t *testing.T) {
	// Повторная доставка inventory_requested: результат уже в журнале —
	// прежний исход переопубликовывается, остатки не трогаются
	repo := newMockRepo(map[string]int{"p1": 98})
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	allocated, err := json.Marshal(map[string]int{"p1": 2})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "order_id", "saga_id", "success", "message", "allocated_items", "created_at",
	}).AddRow("alloc-1", "order-1", "saga-1", true, "", allocated, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventory_allocations`")).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := svc.AllocateInventory(context.Background(), AllocateRequest{
		OrderID: "order-1",
		SagaID:  sagaID("saga-1"),
		Items:   map[string]int{"p1": 2},
	})

	require.NoError(t, err)
	assert.True(t, result.AlreadyExists)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]int{"p1": 2}, result.AllocatedItems)
	// Остаток не списан повторно
	assert.Equal(t, 98, repo.stock("p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// ReleaseInventory
// =============================================================================

func TestReleaseInventory(t *testing.T) {
	repo := newMockRepo(map[string]int{"p1": 95, "p2": 49})
	db, mock := newTestDB(t)
	svc := NewInventoryService(db, repo)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := svc.ReleaseInventory(context.Background(), "order-1", map[string]int{"p1": 5, "p2": 1})

	require.NoError(t, err)
	assert.Equal(t, 100, repo.stock("p1"))
	assert.Equal(t, 50, repo.stock("p2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
