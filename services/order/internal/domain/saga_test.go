package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaLog_End(t *testing.T) {
	saga := &SagaLog{
		SagaID:    "saga-1",
		OrderID:   "order-1",
		Status:    SagaStatusStarted,
		StartedAt: time.Now(),
	}

	require.False(t, saga.IsEnded())

	saga.End(SagaStatusCompleted)

	assert.True(t, saga.IsEnded())
	assert.Equal(t, SagaStatusCompleted, saga.Status)
	require.NotNil(t, saga.EndedAt)
}

func TestSagaLog_End_Idempotent(t *testing.T) {
	saga := &SagaLog{Status: SagaStatusStarted, StartedAt: time.Now()}

	saga.End(SagaStatusFailed)
	firstEndedAt := *saga.EndedAt

	// Повторное завершение не перезаписывает ни статус, ни ended_at
	saga.End(SagaStatusCompleted)

	assert.Equal(t, SagaStatusFailed, saga.Status)
	assert.Equal(t, firstEndedAt, *saga.EndedAt)
}
