package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// State Machine тесты
// =============================================================================

func TestPayment_IsTerminal(t *testing.T) {
	tests := []struct {
		status   PaymentStatus
		terminal bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusProcessing, false},
		{PaymentStatusCompleted, false}, // COMPLETED не терминальный — можно перейти в REFUNDED
		{PaymentStatusFailed, true},
		{PaymentStatusRefunded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestPayment_IsSettled(t *testing.T) {
	tests := []struct {
		status  PaymentStatus
		settled bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusProcessing, false},
		{PaymentStatusCompleted, true},
		{PaymentStatusFailed, true},
		{PaymentStatusRefunded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.settled, tt.status.IsSettled())
		})
	}
}

func TestPayment_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      PaymentStatus
		to        PaymentStatus
		canChange bool
	}{
		// Из PENDING — только в PROCESSING
		{"PENDING -> PROCESSING", PaymentStatusPending, PaymentStatusProcessing, true},
		{"PENDING -> COMPLETED", PaymentStatusPending, PaymentStatusCompleted, false},
		{"PENDING -> FAILED", PaymentStatusPending, PaymentStatusFailed, false},
		{"PENDING -> REFUNDED", PaymentStatusPending, PaymentStatusRefunded, false},
		{"PENDING -> PENDING", PaymentStatusPending, PaymentStatusPending, false},

		// Из PROCESSING
		{"PROCESSING -> COMPLETED", PaymentStatusProcessing, PaymentStatusCompleted, true},
		{"PROCESSING -> FAILED", PaymentStatusProcessing, PaymentStatusFailed, true},
		{"PROCESSING -> REFUNDED", PaymentStatusProcessing, PaymentStatusRefunded, false},
		{"PROCESSING -> PENDING", PaymentStatusProcessing, PaymentStatusPending, false},

		// Из COMPLETED
		{"COMPLETED -> REFUNDED", PaymentStatusCompleted, PaymentStatusRefunded, true},
		{"COMPLETED -> FAILED", PaymentStatusCompleted, PaymentStatusFailed, false},
		{"COMPLETED -> PENDING", PaymentStatusCompleted, PaymentStatusPending, false},

		// Из терминальных состояний
		{"FAILED -> любой", PaymentStatusFailed, PaymentStatusCompleted, false},
		{"REFUNDED -> любой", PaymentStatusRefunded, PaymentStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payment{Status: tt.from}
			assert.Equal(t, tt.canChange, p.CanTransitionTo(tt.to))
		})
	}
}

func TestPayment_Complete(t *testing.T) {
	p := &Payment{Status: PaymentStatusProcessing}

	require.NoError(t, p.Complete("txn-123"))

	assert.Equal(t, PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "txn-123", *p.TransactionID)
}

func TestPayment_Complete_FromPending(t *testing.T) {
	// COMPLETED достижим только через PROCESSING
	p := &Payment{Status: PaymentStatusPending}

	err := p.Complete("txn-123")

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PaymentStatusPending, p.Status)
	assert.Nil(t, p.TransactionID)
}

func TestPayment_Fail(t *testing.T) {
	p := &Payment{Status: PaymentStatusProcessing}

	require.NoError(t, p.Fail("Card declined"))

	assert.Equal(t, PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "Card declined", *p.FailureReason)
	// transaction_id заполняется только при COMPLETED
	assert.Nil(t, p.TransactionID)
}

func TestPayment_Refund(t *testing.T) {
	txID := "txn-123"
	p := &Payment{Status: PaymentStatusCompleted, TransactionID: &txID}

	require.NoError(t, p.Refund("refund-1", "inventory allocation failed"))

	assert.Equal(t, PaymentStatusRefunded, p.Status)
	require.NotNil(t, p.RefundID)
	assert.Equal(t, "refund-1", *p.RefundID)
	require.NotNil(t, p.RefundReason)
	assert.Equal(t, "inventory allocation failed", *p.RefundReason)
}

func TestPayment_Refund_NotCompleted(t *testing.T) {
	for _, status := range []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusProcessing,
		PaymentStatusFailed,
		PaymentStatusRefunded,
	} {
		t.Run(string(status), func(t *testing.T) {
			p := &Payment{Status: status}
			assert.ErrorIs(t, p.Refund("refund-1", "причина"), ErrInvalidTransition)
		})
	}
}

func TestPayment_FullLifecycle(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending}

	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.Complete("txn-42"))
	require.NoError(t, p.Refund("refund-42", "компенсация саги"))

	assert.Equal(t, PaymentStatusRefunded, p.Status)
	assert.True(t, p.Status.IsTerminal())
}

// =============================================================================
// Валидация
// =============================================================================

func TestPayment_Validate(t *testing.T) {
	valid := Payment{
		OrderID:    "order-1",
		SagaID:     "saga-1",
		CustomerID: "customer-1",
		Amount:     1000,
		Currency:   "USD",
	}

	tests := []struct {
		name    string
		mutate  func(*Payment)
		wantErr bool
	}{
		{"валидный платёж", func(p *Payment) {}, false},
		{"нулевая сумма допустима", func(p *Payment) { p.Amount = 0 }, false},
		{"отрицательная сумма", func(p *Payment) { p.Amount = -1 }, true},
		{"пустой order_id", func(p *Payment) { p.OrderID = "" }, true},
		{"пустой saga_id", func(p *Payment) { p.SagaID = "" }, true},
		{"пустой customer_id", func(p *Payment) { p.CustomerID = "" }, true},
		{"пустая валюта", func(p *Payment) { p.Currency = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
