// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import "errors"

// Доменные ошибки Order Service.
// Используются для передачи бизнес-ошибок между слоями приложения.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrEmptyOrderItems возвращается при попытке создать заказ без позиций.
	ErrEmptyOrderItems = errors.New("заказ должен содержать хотя бы одну позицию")

	// ErrInvalidCustomerID возвращается при пустом или некорректном идентификаторе клиента.
	ErrInvalidCustomerID = errors.New("некорректный идентификатор клиента")

	// ErrInvalidProductID возвращается при пустом или некорректном идентификаторе товара.
	ErrInvalidProductID = errors.New("некорректный идентификатор товара")

	// ErrInvalidQuantity возвращается, когда количество товара меньше единицы.
	ErrInvalidQuantity = errors.New("количество должно быть не меньше единицы")

	// ErrInvalidPrice возвращается, когда цена товара отрицательна.
	ErrInvalidPrice = errors.New("цена не может быть отрицательной")

	// ErrOrderCannotCancel возвращается при попытке отменить заказ в неподходящем статусе.
	ErrOrderCannotCancel = errors.New("заказ нельзя отменить в текущем статусе")

	// ErrOrderShippedCannotCancel возвращается при попытке отменить отгруженный
	// или доставленный заказ.
	ErrOrderShippedCannotCancel = errors.New("cannot cancel an order that has been shipped or delivered")

	// ErrInvalidTransition возвращается при попытке выполнить переход статуса,
	// не входящий в allowedTransitions.
	ErrInvalidTransition = errors.New("недопустимый переход статуса заказа")

	// ErrDuplicateOrder возвращается при попытке создать заказ с уже существующим idempotency_key.
	ErrDuplicateOrder = errors.New("заказ с таким idempotency_key уже существует")

	// ErrSagaNotFound возвращается, когда сага не найдена в базе данных.
	ErrSagaNotFound = errors.New("сага не найдена")

	// ErrDuplicateSagaEvent возвращается при повторной записи (saga_id, event_id) —
	// UNIQUE constraint saga_events, используется обработчиками для идемпотентности.
	ErrDuplicateSagaEvent = errors.New("событие саги уже записано")
)
