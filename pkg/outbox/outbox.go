// Package outbox реализует Outbox Pattern для гарантированной доставки событий в Kafka.
// Используется всеми тремя сервисами саги (Order, Payment, Inventory):
// в одной транзакции пишем бизнес-данные + запись в outbox, отдельный
// OutboxWorker читает outbox и публикует события в свою тему.
package outbox

import (
	"encoding/json"
	"time"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (order / payment / inventory)
	AggregateID   string            // ID агрегата (order_id)
	EventType     string            // Тип события (order_created, payment_processed, ...)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ партиционирования (saga_id, fallback order_id)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
