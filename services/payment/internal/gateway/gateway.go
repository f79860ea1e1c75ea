// Package gateway определяет порт внешнего платёжного провайдера.
// Реальная интеграция (Stripe, YooKassa и т.д.) вне ядра системы —
// сервис работает с провайдером только через интерфейс PaymentGateway.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/order-saga/pkg/logger"
)

// Result — результат обращения к платёжному провайдеру.
// Отказ провайдера (decline) — это не ошибка, а легитимный исход:
// Success=false + Message. Ошибка (error) означает сбой связи/таймаут.
type Result struct {
	Success       bool   // Платёж одобрен провайдером
	TransactionID string // ID транзакции провайдера; заполнен только при Success
	Message       string // Сообщение провайдера (причина отказа при !Success)
}

// PaymentGateway — порт платёжного провайдера.
type PaymentGateway interface {
	// ProcessPayment списывает amount (в минимальных единицах) с клиента.
	ProcessPayment(ctx context.Context, paymentID string, amount int64, customerID string) (*Result, error)

	// RefundPayment возвращает средства по ранее завершённой транзакции.
	RefundPayment(ctx context.Context, transactionID string, amount int64) (*Result, error)
}

// =============================================================================
// Симуляция провайдера
// =============================================================================

// simulatedGateway — встроенная симуляция провайдера для разработки и тестов.
type simulatedGateway struct {
	latency time.Duration
}

// NewSimulated создаёт симулированный платёжный шлюз.
// Отклоняет платежи с суммой, кратной 666 (для тестирования failure flow),
// остальные одобряет с искусственной задержкой latency.
func NewSimulated(latency time.Duration) PaymentGateway {
	return &simulatedGateway{latency: latency}
}

// ProcessPayment симулирует списание средств.
func (g *simulatedGateway) ProcessPayment(ctx context.Context, paymentID string, amount int64, customerID string) (*Result, error) {
	log := logger.Ctx(ctx)

	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	// Симуляция: отклоняем платежи с суммой, кратной 666
	if amount > 0 && amount%666 == 0 {
		log.Warn().
			Str("payment_id", paymentID).
			Int64("amount", amount).
			Msg("Платёж отклонён (симуляция)")
		return &Result{Success: false, Message: "Card declined"}, nil
	}

	txID := "txn-" + uuid.New().String()
	log.Debug().
		Str("payment_id", paymentID).
		Str("transaction_id", txID).
		Int64("amount", amount).
		Msg("Платёж одобрен (симуляция)")

	return &Result{Success: true, TransactionID: txID, Message: "approved"}, nil
}

// RefundPayment симулирует возврат средств. Возврат по существующей
// транзакции всегда успешен.
func (g *simulatedGateway) RefundPayment(ctx context.Context, transactionID string, amount int64) (*Result, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	return &Result{
		Success:       true,
		TransactionID: transactionID,
		Message:       "refunded",
	}, nil
}

// sleep имитирует сетевую задержку провайдера, уважая отмену контекста.
func (g *simulatedGateway) sleep(ctx context.Context) error {
	if g.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.latency):
		return nil
	}
}
