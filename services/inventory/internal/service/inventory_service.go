// Package service содержит бизнес-логику Inventory Service.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/logger"
	"example.com/order-saga/pkg/outbox"
	"example.com/order-saga/services/inventory/internal/domain"
	"example.com/order-saga/services/inventory/internal/repository"
)

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// AllocateRequest — запрос на резервирование товаров (inventory_requested).
type AllocateRequest struct {
	OrderID string         // ID заказа
	SagaID  *string        // ID саги для корреляции
	Items   map[string]int // product_id -> количество
}

// AllocationResult — результат резервирования.
type AllocationResult struct {
	Success        bool              // Все позиции зарезервированы
	Message        string            // При отказе — сериализованные failed_items
	AllocatedItems map[string]int    // Зарезервированные позиции (пусто при отказе)
	FailedItems    map[string]string // product_id -> причина отказа
	AlreadyExists  bool              // true если заказ уже был обработан (идемпотентность)
}

// InventoryService — интерфейс бизнес-логики склада.
type InventoryService interface {
	// AllocateInventory резервирует товары заказа и публикует
	// inventory_allocated через outbox. При частичном отказе все успешные
	// резервы компенсируются — остатки возвращаются к состоянию до команды.
	// Идемпотентно по order_id: повторная доставка переопубликовывает
	// прежний результат без повторного списания остатков.
	AllocateInventory(ctx context.Context, req AllocateRequest) (*AllocationResult, error)

	// ReleaseInventory возвращает товары на склад и публикует inventory_released.
	ReleaseInventory(ctx context.Context, orderID string, items map[string]int) error

	// CreateProduct добавляет товар на склад.
	CreateProduct(ctx context.Context, product *domain.Product) error

	// GetProduct возвращает товар по ID.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ListProducts возвращает страницу товаров.
	ListProducts(ctx context.Context, limit, offset int) ([]*domain.Product, error)

	// Restock пополняет остаток товара.
	Restock(ctx context.Context, productID string, quantity int) (*domain.Product, error)
}

// inventoryService — реализация InventoryService.
type inventoryService struct {
	db   *gorm.DB
	repo repository.ProductRepository
}

// NewInventoryService создаёт новый сервис склада.
func NewInventoryService(db *gorm.DB, repo repository.ProductRepository) InventoryService {
	return &inventoryService{db: db, repo: repo}
}

// =============================================================================
// Журнал аллокаций (идемпотентность по order_id)
// =============================================================================

// AllocationModel — GORM модель журнала обработанных команд резервирования.
// UNIQUE order_id: повторная доставка inventory_requested находит запись
// и переопубликовывает прежний результат вместо повторного списания.
type AllocationModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID        string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	SagaID         *string   `gorm:"column:saga_id;type:varchar(36);index"`
	Success        bool      `gorm:"column:success;not null"`
	Message        string    `gorm:"column:message;type:text"`
	AllocatedItems []byte    `gorm:"column:allocated_items;type:json"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AllocationModel) TableName() string {
	return "inventory_allocations"
}

// =============================================================================
// AllocateInventory
// =============================================================================

// AllocateInventory резервирует товары заказа в детерминированном порядке
// (product_id по возрастанию). Каждая позиция — атомарный условный UPDATE,
// двум конкурентным командам не дано переплести чтение-изменение-запись.
func (s *inventoryService) AllocateInventory(ctx context.Context, req AllocateRequest) (*AllocationResult, error) {
	log := logger.FromContext(ctx)

	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	// Идемпотентность: заказ уже обрабатывался — переопубликовываем прежний результат
	if result, ok, err := s.republishExisting(ctx, req.OrderID); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	// Детерминированный порядок обхода — по product_id
	productIDs := make([]string, 0, len(req.Items))
	for pid := range req.Items {
		productIDs = append(productIDs, pid)
	}
	sort.Strings(productIDs)

	allocated := make(map[string]int)
	failed := make(map[string]string)

	for _, pid := range productIDs {
		quantity := req.Items[pid]
		err := s.repo.AllocateQuantity(ctx, pid, quantity)
		switch {
		case err == nil:
			allocated[pid] = quantity
		case errors.Is(err, domain.ErrProductNotFound):
			failed[pid] = fmt.Sprintf("Product %s not found", pid)
		case errors.Is(err, domain.ErrInsufficientQuantity), errors.Is(err, domain.ErrInvalidQuantity):
			failed[pid] = fmt.Sprintf("Insufficient quantity for product %s", pid)
		default:
			// Транзиентная ошибка: возвращаем уже списанное и отдаём ошибку
			// наверх — consumer повторит команду с нетронутыми остатками
			s.rollbackAllocated(ctx, allocated)
			return nil, fmt.Errorf("резервирование товара %s: %w", pid, err)
		}
	}

	result := &AllocationResult{
		Success:        len(failed) == 0,
		AllocatedItems: allocated,
		FailedItems:    failed,
	}

	// Компенсация при частичном отказе: все успешные резервы возвращаются,
	// остатки в точности равны состоянию до команды
	if !result.Success {
		s.rollbackAllocated(ctx, allocated)
		result.AllocatedItems = map[string]int{}

		serialized, err := json.Marshal(failed)
		if err != nil {
			return nil, err
		}
		result.Message = string(serialized)

		log.Warn().
			Str("order_id", req.OrderID).
			Str("failed_items", result.Message).
			Msg("Резервирование отклонено, успешные позиции возвращены")
	} else {
		log.Info().
			Str("order_id", req.OrderID).
			Int("items", len(allocated)).
			Msg("Товары заказа зарезервированы")
	}

	// Журнал аллокации + inventory_allocated в outbox — одна транзакция.
	// Любая ошибка записи откатывает резерв: повтор команды не найдёт
	// журнальной записи и будет резервировать с нетронутых остатков.
	if err := s.persistAllocation(ctx, req, result); err != nil {
		s.rollbackAllocated(ctx, result.AllocatedItems)
		if isDuplicateErr(err) {
			// Гонка двух воркеров: победитель уже записал результат —
			// переопубликовываем его
			if prior, ok, rerr := s.republishExisting(ctx, req.OrderID); rerr == nil && ok {
				return prior, nil
			}
		}
		return nil, err
	}

	return result, nil
}

// rollbackAllocated возвращает на склад всё, что успели списать.
func (s *inventoryService) rollbackAllocated(ctx context.Context, allocated map[string]int) {
	log := logger.FromContext(ctx)
	for pid, quantity := range allocated {
		if err := s.repo.ReleaseQuantity(ctx, pid, quantity); err != nil {
			// Товар существует (мы только что списали) — сюда попадает
			// только транзиентный сбой; остаток восстановит повтор команды
			log.Error().Err(err).
				Str("product_id", pid).
				Int("quantity", quantity).
				Msg("Ошибка возврата резерва")
		}
	}
}

// persistAllocation пишет журнал аллокации и событие inventory_allocated
// одной транзакцией.
func (s *inventoryService) persistAllocation(ctx context.Context, req AllocateRequest, result *AllocationResult) error {
	allocatedJSON, err := json.Marshal(result.AllocatedItems)
	if err != nil {
		return err
	}

	record, err := buildAllocatedOutbox(req.OrderID, req.SagaID, result)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := &AllocationModel{
			ID:             uuid.New().String(),
			OrderID:        req.OrderID,
			SagaID:         req.SagaID,
			Success:        result.Success,
			Message:        result.Message,
			AllocatedItems: allocatedJSON,
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return outbox.NewOutboxRepository(tx, "inventory").Create(ctx, record)
	})
}

// republishExisting ищет прежний результат обработки заказа и, если он есть,
// переопубликовывает inventory_allocated с тем же исходом.
func (s *inventoryService) republishExisting(ctx context.Context, orderID string) (*AllocationResult, bool, error) {
	var model AllocationModel
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	allocated := map[string]int{}
	if len(model.AllocatedItems) > 0 {
		if err := json.Unmarshal(model.AllocatedItems, &allocated); err != nil {
			return nil, false, err
		}
	}

	result := &AllocationResult{
		Success:        model.Success,
		Message:        model.Message,
		AllocatedItems: allocated,
		AlreadyExists:  true,
	}

	record, err := buildAllocatedOutbox(orderID, model.SagaID, result)
	if err != nil {
		return nil, false, err
	}
	if err := outbox.NewOutboxRepository(s.db, "inventory").Create(ctx, record); err != nil {
		return nil, false, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", orderID).
		Bool("success", model.Success).
		Msg("Заказ уже обработан — прежний результат переопубликован")

	return result, true, nil
}

// buildAllocatedOutbox формирует запись outbox с событием inventory_allocated.
func buildAllocatedOutbox(orderID string, sagaID *string, result *AllocationResult) (*outbox.Outbox, error) {
	env, err := events.New(events.InventoryAllocated, sagaID, events.InventoryAllocatedPayload{
		OrderID:        orderID,
		Success:        result.Success,
		Message:        result.Message,
		AllocatedItems: result.AllocatedItems,
	})
	if err != nil {
		return nil, err
	}

	return outboxRecord(orderID, sagaID, env)
}

// =============================================================================
// ReleaseInventory
// =============================================================================

// ReleaseInventory возвращает товары на склад и публикует inventory_released.
func (s *inventoryService) ReleaseInventory(ctx context.Context, orderID string, items map[string]int) error {
	log := logger.FromContext(ctx)

	for pid, quantity := range items {
		if err := s.repo.ReleaseQuantity(ctx, pid, quantity); err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				log.Warn().Str("product_id", pid).Msg("Возврат несуществующего товара, пропуск")
				continue
			}
			return fmt.Errorf("возврат товара %s: %w", pid, err)
		}
	}

	env, err := events.New(events.InventoryReleased, nil, events.InventoryReleasedPayload{
		OrderID: orderID,
		Items:   items,
	})
	if err != nil {
		return err
	}
	record, err := outboxRecord(orderID, nil, env)
	if err != nil {
		return err
	}
	if err := outbox.NewOutboxRepository(s.db, "inventory").Create(ctx, record); err != nil {
		return err
	}

	log.Info().Str("order_id", orderID).Int("items", len(items)).Msg("Товары возвращены на склад")
	return nil
}

// =============================================================================
// CRUD товаров
// =============================================================================

// CreateProduct добавляет товар на склад.
func (s *inventoryService) CreateProduct(ctx context.Context, product *domain.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.Currency == "" {
		product.Currency = "USD"
	}
	if err := product.Validate(); err != nil {
		return err
	}
	return s.repo.Create(ctx, product)
}

// GetProduct возвращает товар по ID.
func (s *inventoryService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.repo.GetByID(ctx, productID)
}

// ListProducts возвращает страницу товаров.
func (s *inventoryService) ListProducts(ctx context.Context, limit, offset int) ([]*domain.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// Restock пополняет остаток товара.
func (s *inventoryService) Restock(ctx context.Context, productID string, quantity int) (*domain.Product, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if err := s.repo.ReleaseQuantity(ctx, productID, quantity); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, productID)
}

// =============================================================================
// Вспомогательные функции
// =============================================================================

// outboxRecord формирует запись outbox для envelope. Ключ партиционирования —
// saga_id с откатом на order_id.
func outboxRecord(orderID string, sagaID *string, env *events.Envelope) (*outbox.Outbox, error) {
	payload, err := env.ToJSON()
	if err != nil {
		return nil, err
	}

	key := orderID
	if sagaID != nil {
		key = *sagaID
	}

	return &outbox.Outbox{
		ID:            env.EventID,
		AggregateType: "inventory",
		AggregateID:   orderID,
		EventType:     string(env.EventType),
		Topic:         events.TopicInventory,
		MessageKey:    key,
		Payload:       payload,
	}, nil
}

// isDuplicateErr определяет нарушение UNIQUE constraint MySQL.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "1062")
}
