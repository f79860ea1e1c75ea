// Package events содержит общую схему событий саги: единый конверт
// (заголовок + типизированный payload) и константы тем Kafka.
//
// Три сервиса (Order, Payment, Inventory) раньше объявляли почти
// идентичные иерархии событий каждый у себя — здесь это единый
// артефакт: одна структура Envelope с полями заголовка плюс
// json.RawMessage payload, и набор типизированных Payload-структур на
// каждый event_type. Парсинг ветвится по полю Type.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Топики шины событий.
const (
	TopicOrders    = "orders"
	TopicPayments  = "payments"
	TopicInventory = "inventory"
	TopicShipping  = "shipping"
)

// Type — тег события на шине (event_type в JSON).
type Type string

const (
	OrderCreated           Type = "order_created"
	OrderCancelled         Type = "order_cancelled"
	PaymentRequested       Type = "payment_requested"
	PaymentProcessed       Type = "payment_processed"
	PaymentRefundRequested Type = "payment_refund_requested"
	PaymentRefunded        Type = "payment_refunded"
	InventoryRequested     Type = "inventory_requested"
	InventoryAllocated     Type = "inventory_allocated"
	InventoryReleased      Type = "inventory_released"
	OrderShipped           Type = "order_shipped"
)

// Envelope — конверт события на шине. На проводе поля заголовка и поля
// payload лежат на одном уровне: {event_id, event_type, timestamp,
// saga_id?, ...payload}. Payload остаётся "сырым" до диспетчеризации по
// Type, чтобы один обработчик мог игнорировать чужие типы на общей теме
// (например, Payment Service слушает "payments", но должен пропускать
// payment_processed/payment_refunded — события, которые сам же публикует).
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType Type            `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	SagaID    *string         `json:"saga_id,omitempty"`
	Payload   json.RawMessage `json:"-"`
}

// New создаёт конверт для payload, сериализуя его в json.RawMessage.
func New(eventType Type, sagaID *string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация payload %s: %w", eventType, err)
	}
	return &Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		SagaID:    sagaID,
		Payload:   raw,
	}, nil
}

// ToJSON сериализует конверт в плоский вид: поля payload подмешиваются
// к полям заголовка. Имена полей заголовка зарезервированы и не должны
// встречаться в payload-структурах.
func (e *Envelope) ToJSON() ([]byte, error) {
	flat := map[string]json.RawMessage{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &flat); err != nil {
			return nil, fmt.Errorf("payload %s не является JSON-объектом: %w", e.EventType, err)
		}
	}

	header, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var headerFields map[string]json.RawMessage
	if err := json.Unmarshal(header, &headerFields); err != nil {
		return nil, err
	}
	for k, v := range headerFields {
		flat[k] = v
	}

	return json.Marshal(flat)
}

// FromJSON разбирает заголовок конверта; весь документ сохраняется как
// Payload, чтобы вызывающий код декодировал его в типизированную
// структуру после диспетчеризации по EventType (лишние поля заголовка
// типизированные структуры игнорируют).
func FromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	env.Payload = data
	return &env, nil
}

// Decode декодирует payload конверта в типизированную структуру dst.
func (e *Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// =============================================================================
// Payload-структуры по event_type
// =============================================================================

// ItemPayload — позиция заказа на шине (pid -> {quantity, unit_price}).
type ItemPayload struct {
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// OrderCreatedPayload — orders/order_created.
type OrderCreatedPayload struct {
	OrderID     string                 `json:"order_id"`
	CustomerID  string                 `json:"customer_id"`
	TotalAmount float64                `json:"total_amount"`
	Items       map[string]ItemPayload `json:"items"`
}

// OrderCancelledPayload — orders/order_cancelled.
type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentRequestedPayload — payments/payment_requested.
type PaymentRequestedPayload struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

// PaymentProcessedPayload — payments/payment_processed.
type PaymentProcessedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

// PaymentRefundRequestedPayload — payments/payment_refund_requested.
// Публикуется Order Service, когда склад отказал после успешного платежа.
type PaymentRefundRequestedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentRefundedPayload — payments/payment_refunded.
type PaymentRefundedPayload struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

// InventoryRequestedPayload — inventory/inventory_requested.
type InventoryRequestedPayload struct {
	OrderID string         `json:"order_id"`
	Items   map[string]int `json:"items"`
}

// InventoryAllocatedPayload — inventory/inventory_allocated.
type InventoryAllocatedPayload struct {
	OrderID        string         `json:"order_id"`
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	AllocatedItems map[string]int `json:"allocated_items"`
}

// InventoryReleasedPayload — inventory/inventory_released.
type InventoryReleasedPayload struct {
	OrderID string         `json:"order_id"`
	Items   map[string]int `json:"items"`
}

// OrderShippedPayload — shipping/order_shipped.
type OrderShippedPayload struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
}
