package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Exchange для всех событий кредитного леджера.
const Exchange = "credit-ledger"

// Ключи маршрутизации событий.
const (
	RoutingGranted  = "billing.granted"
	RoutingRefunded = "dispute.refunded"
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

func GetLedgerQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "ledger.billing.granted", RoutingKey: RoutingGranted},
		{QueueName: "ledger.dispute.refunded", RoutingKey: RoutingRefunded},
	}
}

// Connect открывает соединение и канал, объявляет exchange и очереди.
func Connect(address string) (*amqp.Connection, *amqp.Channel, error) {
	const op = "rabbitmq.Connect"
	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, q := range GetLedgerQueues() {
		if _, err = ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if err = ch.QueueBind(q.QueueName, q.RoutingKey, Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return conn, ch, nil
}
