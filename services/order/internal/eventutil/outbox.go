// Package eventutil содержит маленький общий хелпер для превращения
// конверта события (pkg/events.Envelope) в запись outbox — используется
// и при создании заказа (service), и при реакции на входящие события (saga).
package eventutil

import (
	"example.com/order-saga/pkg/events"
	"example.com/order-saga/pkg/outbox"
)

// NewOutboxRecord сериализует envelope и формирует запись outbox для
// aggregateID, готовую к сохранению в той же транзакции, что и сам заказ.
// key — ключ партиционирования Kafka (saga_id, либо order_id как fallback).
func NewOutboxRecord(aggregateID, topic, key string, env *events.Envelope) (*outbox.Outbox, error) {
	payload, err := env.ToJSON()
	if err != nil {
		return nil, err
	}

	return &outbox.Outbox{
		ID:            env.EventID,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     string(env.EventType),
		Topic:         topic,
		MessageKey:    key,
		Payload:       payload,
	}, nil
}
