package domain

import "time"

// SagaStatus — статус саги заказа.
type SagaStatus string

const (
	SagaStatusStarted   SagaStatus = "STARTED"
	SagaStatusCompleted SagaStatus = "COMPLETED"
	SagaStatusFailed    SagaStatus = "FAILED"
)

// SagaLog — запись саги заказа: начинается с CreateOrder, заканчивается
// терминальным исходом (успех или провал на любом шаге). Order Service —
// единственный владелец; Payment/Inventory знают только saga_id в конверте.
type SagaLog struct {
	SagaID    string     // UUID саги, совпадает с значением в events.Envelope.SagaID
	OrderID   string     // Заказ, для которого запущена сага
	Status    SagaStatus // STARTED пока сага не завершена
	StartedAt time.Time  // Устанавливается ровно один раз, при StartSaga
	EndedAt   *time.Time // nil пока сага не завершена; устанавливается ровно один раз
}

// End завершает сагу статусом status, если она ещё не завершена.
// Повторный вызов после завершения — no-op (ended_at устанавливается
// не более одного раза).
func (s *SagaLog) End(status SagaStatus) {
	if s.EndedAt != nil {
		return
	}
	now := time.Now()
	s.Status = status
	s.EndedAt = &now
}

// IsEnded возвращает true, если сага уже завершена (успешно или нет).
func (s *SagaLog) IsEnded() bool {
	return s.EndedAt != nil
}

// SagaEvent — запись в журнале событий саги (saga_events).
// Уникальность по (saga_id, event_id) отбрасывает повторную доставку.
type SagaEvent struct {
	ID        int64     // Автоинкрементный PK строки saga_events
	SagaID    string    // Сага, к которой относится событие
	EventID   string    // event_id из конверта — вместе с SagaID образует UNIQUE
	EventType string    // event_type из конверта (order_created, payment_requested, ...)
	EventData []byte    // Сериализованный payload события (JSON)
	Timestamp time.Time // timestamp события, используется для строгого порядка чтения
}
