// Package repository содержит реализацию доступа к данным для Inventory Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/order-saga/services/inventory/internal/domain"
)

// ProductRepository определяет интерфейс для работы с товарами в БД.
type ProductRepository interface {
	// Create создаёт новый товар.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID возвращает товар по ID.
	GetByID(ctx context.Context, productID string) (*domain.Product, error)

	// GetBySKU возвращает товар по артикулу.
	GetBySKU(ctx context.Context, sku string) (*domain.Product, error)

	// List возвращает товары, отсортированные по имени.
	List(ctx context.Context, limit, offset int) ([]*domain.Product, error)

	// Update сохраняет изменяемые поля товара.
	Update(ctx context.Context, product *domain.Product) error

	// AllocateQuantity атомарно резервирует n единиц: условный UPDATE
	// уменьшает остаток только если его хватает. Возвращает
	// ErrInsufficientQuantity (остатка мало) либо ErrProductNotFound.
	AllocateQuantity(ctx context.Context, productID string, n int) error

	// ReleaseQuantity атомарно возвращает n единиц на склад.
	ReleaseQuantity(ctx context.Context, productID string, n int) error
}

// =============================================================================
// GORM модель
// =============================================================================

// ProductModel — GORM модель для таблицы products.
type ProductModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	Description string    `gorm:"column:description;type:text"`
	SKU         string    `gorm:"column:sku;type:varchar(64);not null;uniqueIndex"`
	Price       int64     `gorm:"column:price;not null"`
	Currency    string    `gorm:"column:currency;type:varchar(3);not null"`
	Quantity    int       `gorm:"column:quantity;not null"`
	Metadata    []byte    `gorm:"column:metadata;type:json"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *ProductModel) toDomain() (*domain.Product, error) {
	product := &domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		SKU:         m.SKU,
		Price:       m.Price,
		Currency:    m.Currency,
		Quantity:    m.Quantity,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &product.Metadata); err != nil {
			return nil, err
		}
	}

	return product, nil
}

// productModelFromDomain конвертирует доменную сущность в GORM модель.
func productModelFromDomain(p *domain.Product) (*ProductModel, error) {
	model := &ProductModel{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		SKU:         p.SKU,
		Price:       p.Price,
		Currency:    p.Currency,
		Quantity:    p.Quantity,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}

	if p.Metadata != nil {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, err
		}
		model.Metadata = data
	}

	return model, nil
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// productRepository — GORM реализация ProductRepository.
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository создаёт новый репозиторий товаров.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create создаёт новый товар.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	model, err := productModelFromDomain(product)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateSKU
		}
		return err
	}

	product.CreatedAt = model.CreatedAt
	product.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает товар по ID.
func (r *productRepository) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	var model ProductModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// GetBySKU возвращает товар по артикулу.
func (r *productRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var model ProductModel

	if err := r.db.WithContext(ctx).
		Where("sku = ?", sku).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// List возвращает товары, отсортированные по имени.
func (r *productRepository) List(ctx context.Context, limit, offset int) ([]*domain.Product, error) {
	var models []ProductModel

	if err := r.db.WithContext(ctx).
		Order("name ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	products := make([]*domain.Product, 0, len(models))
	for i := range models {
		product, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	return products, nil
}

// Update сохраняет изменяемые поля товара.
func (r *productRepository) Update(ctx context.Context, product *domain.Product) error {
	model, err := productModelFromDomain(product)
	if err != nil {
		return err
	}
	model.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"name":        model.Name,
			"description": model.Description,
			"price":       model.Price,
			"quantity":    model.Quantity,
			"metadata":    model.Metadata,
			"updated_at":  model.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrProductNotFound
	}

	product.UpdatedAt = model.UpdatedAt
	return nil
}

// AllocateQuantity атомарно резервирует n единиц товара.
// Условный UPDATE ... WHERE quantity >= n исключает гонку двух
// конкурентных аллокаций: ноль затронутых строк означает, что остатка
// не хватило (либо товара нет) — остаток никогда не уходит в минус.
func (r *productRepository) AllocateQuantity(ctx context.Context, productID string, n int) error {
	if n <= 0 {
		return domain.ErrInvalidQuantity
	}

	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ? AND quantity >= ?", productID, n).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity - ?", n),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Различаем "нет товара" и "мало остатка"
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&ProductModel{}).
			Where("id = ?", productID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrProductNotFound
		}
		return domain.ErrInsufficientQuantity
	}

	return nil
}

// ReleaseQuantity атомарно возвращает n единиц товара на склад.
func (r *productRepository) ReleaseQuantity(ctx context.Context, productID string, n int) error {
	if n <= 0 {
		return domain.ErrInvalidQuantity
	}

	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", n),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrProductNotFound
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
