// Package domain содержит бизнес-сущности Inventory Service.
package domain

import "errors"

// Доменные ошибки Inventory Service.
var (
	// ErrProductNotFound — товар не найден.
	ErrProductNotFound = errors.New("товар не найден")

	// ErrDuplicateSKU — товар с таким артикулом уже существует.
	ErrDuplicateSKU = errors.New("товар с таким SKU уже существует")

	// ErrInsufficientQuantity — недостаточно товара для резервирования.
	ErrInsufficientQuantity = errors.New("недостаточно товара на складе")

	// ErrInvalidQuantity — количество должно быть положительным.
	ErrInvalidQuantity = errors.New("количество должно быть положительным")

	// ErrInvalidName — пустое название товара.
	ErrInvalidName = errors.New("название товара обязательно")

	// ErrInvalidSKU — пустой артикул.
	ErrInvalidSKU = errors.New("артикул товара обязателен")

	// ErrInvalidPrice — отрицательная цена.
	ErrInvalidPrice = errors.New("цена не может быть отрицательной")
)
