package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/order-saga/services/order/internal/domain"
)

// SagaRepository определяет интерфейс для работы с журналом саги заказа.
type SagaRepository interface {
	// StartSaga создаёт запись саги в статусе STARTED.
	StartSaga(ctx context.Context, saga *domain.SagaLog) error

	// GetBySagaID возвращает сагу по saga_id.
	GetBySagaID(ctx context.Context, sagaID string) (*domain.SagaLog, error)

	// EndSaga завершает сагу терминальным статусом (не более одного раза).
	EndSaga(ctx context.Context, sagaID string, status domain.SagaStatus) error

	// LogEvent записывает событие в журнал саги. Идемпотентно: повторная
	// запись с тем же (saga_id, event_id) отбрасывается как ErrDuplicateSagaEvent.
	LogEvent(ctx context.Context, event *domain.SagaEvent) error

	// ListEvents возвращает события саги в строгом порядке timestamp.
	ListEvents(ctx context.Context, sagaID string) ([]*domain.SagaEvent, error)
}

// SagaLogModel — GORM модель для таблицы saga_log.
type SagaLogModel struct {
	SagaID    string     `gorm:"column:saga_id;type:varchar(36);primaryKey"`
	OrderID   string     `gorm:"column:order_id;type:varchar(36);not null;index"`
	Status    string     `gorm:"column:status;type:varchar(20);not null"`
	StartedAt time.Time  `gorm:"column:started_at;not null"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

// TableName возвращает имя таблицы в БД.
func (SagaLogModel) TableName() string {
	return "saga_log"
}

func (m *SagaLogModel) toDomain() *domain.SagaLog {
	return &domain.SagaLog{
		SagaID:    m.SagaID,
		OrderID:   m.OrderID,
		Status:    domain.SagaStatus(m.Status),
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

// SagaEventModel — GORM модель для таблицы saga_events.
// Уникальный индекс (saga_id, event_id) реализует идемпотентность лога.
type SagaEventModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SagaID    string    `gorm:"column:saga_id;type:varchar(36);not null;uniqueIndex:idx_saga_event"`
	EventID   string    `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:idx_saga_event"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	EventData []byte    `gorm:"column:event_data;type:json"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index"`
}

// TableName возвращает имя таблицы в БД.
func (SagaEventModel) TableName() string {
	return "saga_events"
}

func (m *SagaEventModel) toDomain() *domain.SagaEvent {
	return &domain.SagaEvent{
		ID:        m.ID,
		SagaID:    m.SagaID,
		EventID:   m.EventID,
		EventType: m.EventType,
		EventData: m.EventData,
		Timestamp: m.Timestamp,
	}
}

// sagaRepository — GORM реализация SagaRepository.
type sagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository создаёт новый репозиторий саги.
func NewSagaRepository(db *gorm.DB) SagaRepository {
	return &sagaRepository{db: db}
}

// StartSaga создаёт запись саги в статусе STARTED.
func (r *sagaRepository) StartSaga(ctx context.Context, saga *domain.SagaLog) error {
	model := &SagaLogModel{
		SagaID:    saga.SagaID,
		OrderID:   saga.OrderID,
		Status:    string(saga.Status),
		StartedAt: saga.StartedAt,
		EndedAt:   saga.EndedAt,
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// GetBySagaID возвращает сагу по saga_id.
func (r *sagaRepository) GetBySagaID(ctx context.Context, sagaID string) (*domain.SagaLog, error) {
	var model SagaLogModel
	if err := r.db.WithContext(ctx).Where("saga_id = ?", sagaID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSagaNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// EndSaga завершает сагу терминальным статусом, если она ещё не завершена.
func (r *sagaRepository) EndSaga(ctx context.Context, sagaID string, status domain.SagaStatus) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&SagaLogModel{}).
		Where("saga_id = ? AND ended_at IS NULL", sagaID).
		Updates(map[string]any{
			"status":   string(status),
			"ended_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 означает, что сага уже завершена или не найдена —
	// в обоих случаях повторный вызов должен оставаться no-op.
	return nil
}

// LogEvent записывает событие саги. Дубликат (saga_id, event_id) отбрасывается.
func (r *sagaRepository) LogEvent(ctx context.Context, event *domain.SagaEvent) error {
	model := &SagaEventModel{
		SagaID:    event.SagaID,
		EventID:   event.EventID,
		EventType: event.EventType,
		EventData: event.EventData,
		Timestamp: event.Timestamp,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateSagaEvent
		}
		return err
	}

	event.ID = model.ID
	return nil
}

// ListEvents возвращает события саги, строго упорядоченные по timestamp.
func (r *sagaRepository) ListEvents(ctx context.Context, sagaID string) ([]*domain.SagaEvent, error) {
	var models []SagaEventModel
	if err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("timestamp ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*domain.SagaEvent, len(models))
	for i := range models {
		events[i] = models[i].toDomain()
	}
	return events, nil
}
