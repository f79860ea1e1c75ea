// Package domain содержит бизнес-сущности Inventory Service.
package domain

import (
	"strings"
	"time"
)

// InventoryStatus — производный статус наличия товара.
// Не хранится в БД — вычисляется из quantity при каждом чтении.
type InventoryStatus string

const (
	// InventoryStatusOutOfStock — товар закончился (quantity == 0).
	InventoryStatusOutOfStock InventoryStatus = "OUT_OF_STOCK"

	// InventoryStatusLowStock — товар заканчивается (1..9).
	InventoryStatusLowStock InventoryStatus = "LOW_STOCK"

	// InventoryStatusInStock — товар в наличии (>= 10).
	InventoryStatusInStock InventoryStatus = "IN_STOCK"
)

// lowStockThreshold — нижняя граница статуса IN_STOCK.
const lowStockThreshold = 10

// Product — товар на складе.
type Product struct {
	ID          string         // UUID товара
	Name        string         // Название
	Description string         // Описание
	SKU         string         // Артикул, уникален в рамках склада
	Price       int64          // Цена в минимальных единицах (копейки/центы)
	Currency    string         // ISO 4217 код валюты
	Quantity    int            // Остаток на складе, никогда не отрицательный
	Metadata    map[string]any // Произвольные атрибуты товара
	CreatedAt   time.Time      // Дата создания
	UpdatedAt   time.Time      // Дата обновления
}

// Status возвращает производный статус наличия.
func (p *Product) Status() InventoryStatus {
	switch {
	case p.Quantity == 0:
		return InventoryStatusOutOfStock
	case p.Quantity < lowStockThreshold:
		return InventoryStatusLowStock
	default:
		return InventoryStatusInStock
	}
}

// Allocate резервирует n единиц товара. Успешен только если n <= Quantity —
// остаток никогда не уходит в минус.
func (p *Product) Allocate(n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}
	if n > p.Quantity {
		return ErrInsufficientQuantity
	}
	p.Quantity -= n
	p.UpdatedAt = time.Now()
	return nil
}

// Release возвращает n единиц товара на склад (компенсация либо пополнение).
// Верхней границы нет.
func (p *Product) Release(n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}
	p.Quantity += n
	p.UpdatedAt = time.Now()
	return nil
}

// Validate проверяет корректность полей товара.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(p.SKU) == "" {
		return ErrInvalidSKU
	}
	if p.Price < 0 {
		return ErrInvalidPrice
	}
	if p.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}
