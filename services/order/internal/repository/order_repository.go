// Package repository содержит реализацию доступа к данным для Order Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/order-saga/services/order/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Create создаёт новый заказ с позициями в одной транзакции.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error)

	// ListByCustomerID возвращает заказы клиента, отсортированные по created_at DESC.
	ListByCustomerID(ctx context.Context, customerID string) ([]*domain.Order, error)

	// Update сохраняет статус и metadata заказа (вызывается после TransitionTo/Cancel/...).
	Update(ctx context.Context, order *domain.Order) error
}

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID             string           `gorm:"column:id;type:varchar(36);primaryKey"`
	CustomerID     string           `gorm:"column:customer_id;type:varchar(36);not null;index"`
	Status         string           `gorm:"column:status;type:varchar(30);not null;index"`
	TotalAmount    int64            `gorm:"column:total_amount;not null"`
	Currency       string           `gorm:"column:currency;type:varchar(3);not null"`
	SagaID         *string          `gorm:"column:saga_id;type:varchar(36);index"`
	Metadata       []byte           `gorm:"column:metadata;type:json"`
	IdempotencyKey *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID        string `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID   string `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID string `gorm:"column:product_id;type:varchar(36);not null"`
	Quantity  int32  `gorm:"column:quantity;not null"`
	UnitPrice int64  `gorm:"column:unit_price;not null"`
	Currency  string `gorm:"column:currency;type:varchar(3);not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

func (m *OrderModel) toDomain() (*domain.Order, error) {
	order := &domain.Order{
		ID:     m.ID,
		CustomerID: m.CustomerID,
		Status: domain.OrderStatus(m.Status),
		TotalAmount: domain.Money{
			Amount:   m.TotalAmount,
			Currency: m.Currency,
		},
		SagaID:    m.SagaID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Items:     make([]domain.OrderItem, len(m.Items)),
	}

	if m.IdempotencyKey != nil {
		order.IdempotencyKey = *m.IdempotencyKey
	}

	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &order.Metadata); err != nil {
			return nil, err
		}
	}

	for i, item := range m.Items {
		order.Items[i] = item.toDomain()
	}

	return order, nil
}

func (m *OrderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:        m.ID,
		OrderID:   m.OrderID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		UnitPrice: domain.Money{
			Amount:   m.UnitPrice,
			Currency: m.Currency,
		},
	}
}

func orderModelFromDomain(o *domain.Order) (*OrderModel, error) {
	model := &OrderModel{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.Amount,
		Currency:    o.TotalAmount.Currency,
		SagaID:      o.SagaID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Items:       make([]OrderItemModel, len(o.Items)),
	}

	if o.IdempotencyKey != "" {
		model.IdempotencyKey = &o.IdempotencyKey
	}

	if len(o.Metadata) > 0 {
		data, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, err
		}
		model.Metadata = data
	}

	for i, item := range o.Items {
		model.Items[i] = orderItemModelFromDomain(&item)
	}

	return model, nil
}

func orderItemModelFromDomain(oi *domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:        oi.ID,
		OrderID:   oi.OrderID,
		ProductID: oi.ProductID,
		Quantity:  oi.Quantity,
		UnitPrice: oi.UnitPrice.Amount,
		Currency:  oi.UnitPrice.Currency,
	}
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create создаёт новый заказ с позициями в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	model, err := orderModelFromDomain(order)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})

	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	for i := range order.Items {
		order.Items[i].ID = model.Items[i].ID
	}

	return nil
}

// GetByID возвращает заказ по ID с загруженными позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ?", key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// ListByCustomerID возвращает заказы клиента, отсортированные по created_at DESC.
func (r *orderRepository) ListByCustomerID(ctx context.Context, customerID string) ([]*domain.Order, error) {
	var models []OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		o, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders[i] = o
	}

	return orders, nil
}

// Update сохраняет статус и metadata заказа.
func (r *orderRepository) Update(ctx context.Context, order *domain.Order) error {
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":     string(order.Status),
			"metadata":   metadata,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
