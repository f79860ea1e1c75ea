// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import (
	"strings"
	"time"
)

// OrderStatus — статус заказа в системе. Полный жизненный цикл заказа
// от создания до доставки, включая ветви отмены и отказа саги.
type OrderStatus string

const (
	OrderStatusCreated             OrderStatus = "CREATED"
	OrderStatusPendingPayment      OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaymentConfirmed    OrderStatus = "PAYMENT_CONFIRMED"
	OrderStatusPendingInventory    OrderStatus = "PENDING_INVENTORY"
	OrderStatusInventoryConfirmed  OrderStatus = "INVENTORY_CONFIRMED"
	OrderStatusShipped             OrderStatus = "SHIPPED"
	OrderStatusDelivered           OrderStatus = "DELIVERED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
	OrderStatusFailed              OrderStatus = "FAILED"
)

// allowedTransitions описывает граф переходов статуса заказа.
// Ключ — исходный статус, значение — допустимые целевые статусы.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:            {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusPendingPayment:     {OrderStatusPaymentConfirmed, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed:   {OrderStatusPendingInventory, OrderStatusCancelled},
	OrderStatusPendingInventory:   {OrderStatusInventoryConfirmed, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusInventoryConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:            {OrderStatusDelivered},
	OrderStatusDelivered:          {},
	OrderStatusCancelled:          {},
	OrderStatusFailed:             {},
}

// IsTerminal возвращает true для состояний, из которых заказ больше не движется.
func (s OrderStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Money — денежная сумма с валютой.
// Хранит сумму в минимальных единицах (копейки, центы) для избежания проблем с плавающей точкой.
type Money struct {
	Currency string // ISO 4217 код валюты (USD, RUB, EUR)
	Amount   int64  // Сумма в минимальных единицах (копейки/центы)
}

// Multiply умножает сумму на количество.
// Используется для расчёта стоимости позиции (цена * количество).
func (m Money) Multiply(quantity int32) Money {
	return Money{
		Currency: m.Currency,
		Amount:   m.Amount * int64(quantity),
	}
}

// Order — заказ в системе.
// Это доменная сущность без зависимостей от инфраструктуры (GORM).
type Order struct {
	ID             string         // Уникальный идентификатор заказа (UUID)
	CustomerID     string         // ID клиента, создавшего заказ
	Items          []OrderItem    // Позиции заказа
	TotalAmount    Money          // Общая сумма заказа (Σ quantity·unit_price)
	Status         OrderStatus    // Текущий статус заказа
	SagaID         *string        // ID саги; устанавливается ровно один раз при создании
	Metadata       map[string]any // Причины отказа, allocated_items, tracking_number и т.п.
	IdempotencyKey string         // Ключ идемпотентности POST /orders
	CreatedAt      time.Time      // Дата создания заказа
	UpdatedAt      time.Time      // Дата последнего обновления (modified_at)
}

// Validate проверяет корректность полей заказа.
// Вызывается перед созданием заказа.
func (o *Order) Validate() error {
	if err := o.validateCustomerID(); err != nil {
		return err
	}
	return o.validateItems()
}

func (o *Order) validateCustomerID() error {
	if strings.TrimSpace(o.CustomerID) == "" {
		return ErrInvalidCustomerID
	}
	return nil
}

func (o *Order) validateItems() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrderItems
	}
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CalculateTotal пересчитывает общую сумму заказа из позиций (total_amount = Σ q·u).
// Валюта берётся из первой позиции.
func (o *Order) CalculateTotal() {
	if len(o.Items) == 0 {
		o.TotalAmount = Money{Amount: 0}
		return
	}

	currency := o.Items[0].UnitPrice.Currency
	var total int64
	for i := range o.Items {
		total += o.Items[i].Total().Amount
	}

	o.TotalAmount = Money{Currency: currency, Amount: total}
}

// SetMetadata записывает значение в metadata, инициализируя карту при необходимости.
func (o *Order) SetMetadata(key string, value any) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]any)
	}
	o.Metadata[key] = value
}

// canTransitionTo проверяет, допустим ли переход в target из текущего статуса.
func (o *Order) canTransitionTo(target OrderStatus) bool {
	for _, s := range allowedTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionTo переводит заказ в target, если переход разрешён графом allowedTransitions.
func (o *Order) TransitionTo(target OrderStatus) error {
	if !o.canTransitionTo(target) {
		return ErrInvalidTransition
	}
	o.Status = target
	o.UpdatedAt = time.Now()
	return nil
}

// CanCancel проверяет, можно ли отменить заказ: разрешено из любого
// нетерминального статуса, кроме SHIPPED/DELIVERED.
func (o *Order) CanCancel() bool {
	return o.Status != OrderStatusShipped &&
		o.Status != OrderStatusDelivered &&
		!o.Status.IsTerminal()
}

// Cancel отменяет заказ, если это возможно, и записывает причину в metadata.
func (o *Order) Cancel(reason string) error {
	if o.Status == OrderStatusShipped || o.Status == OrderStatusDelivered {
		return ErrOrderShippedCannotCancel
	}
	if !o.CanCancel() {
		return ErrOrderCannotCancel
	}
	o.Status = OrderStatusCancelled
	if reason != "" {
		o.SetMetadata("cancellation_reason", reason)
	}
	o.UpdatedAt = time.Now()
	return nil
}

// ConfirmPayment переводит PENDING_PAYMENT → PAYMENT_CONFIRMED (PaymentProcessed success).
func (o *Order) ConfirmPayment() error {
	return o.TransitionTo(OrderStatusPaymentConfirmed)
}

// RequestInventory переводит PAYMENT_CONFIRMED → PENDING_INVENTORY
// (после публикации InventoryRequested).
func (o *Order) RequestInventory() error {
	return o.TransitionTo(OrderStatusPendingInventory)
}

// ConfirmInventory переводит PENDING_INVENTORY → INVENTORY_CONFIRMED
// (InventoryAllocated success) и записывает allocated_items в metadata.
// Сагу завершает вызывающий обработчик.
func (o *Order) ConfirmInventory(allocatedItems map[string]int) error {
	if err := o.TransitionTo(OrderStatusInventoryConfirmed); err != nil {
		return err
	}
	o.SetMetadata("allocated_items", allocatedItems)
	return nil
}

// Fail помечает заказ как неудачный с указанием причины (PaymentProcessed/
// InventoryAllocated failure). metadataKey различает источник отказа
// (payment_failure_reason / inventory_failure_reason).
func (o *Order) Fail(metadataKey, reason string) error {
	if err := o.TransitionTo(OrderStatusFailed); err != nil {
		return err
	}
	o.SetMetadata(metadataKey, reason)
	return nil
}

// Ship записывает номер отслеживания и переводит в SHIPPED (OrderShipped).
func (o *Order) Ship(trackingNumber string) error {
	if err := o.TransitionTo(OrderStatusShipped); err != nil {
		return err
	}
	o.SetMetadata("tracking_number", trackingNumber)
	return nil
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ID        string // Уникальный идентификатор позиции (UUID)
	OrderID   string // ID заказа, к которому относится позиция
	ProductID string // ID товара
	Quantity  int32  // Количество единиц товара
	UnitPrice Money  // Цена за единицу товара
}

// Validate проверяет корректность полей позиции заказа.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return ErrInvalidProductID
	}
	if oi.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if oi.UnitPrice.Amount < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Total возвращает общую стоимость позиции (количество * цена за единицу).
func (oi *OrderItem) Total() Money {
	return oi.UnitPrice.Multiply(oi.Quantity)
}
