// Package domain содержит бизнес-сущности Payment Service.
package domain

import "errors"

// Доменные ошибки Payment Service.
var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("недопустимый переход состояния платежа")

	// ErrInvalidAmount — некорректная сумма платежа.
	ErrInvalidAmount = errors.New("сумма платежа не может быть отрицательной")

	// ErrDuplicatePayment — платёж для этой пары (order_id, saga_id) уже существует.
	ErrDuplicatePayment = errors.New("платёж для этого заказа и саги уже существует")

	// ErrRefundNotAllowed — возврат возможен только из COMPLETED.
	ErrRefundNotAllowed = errors.New("возврат возможен только для завершённого платежа")
)
