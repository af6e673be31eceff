// Package rabbitmq содержит подключение к брокеру и публикацию
// событий биллинга для внешних потребителей (нотификации и т.п.).
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Event — конверт события леджера. Поле Type совпадает с ключом
// маршрутизации, по нему потребители различают события.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// PublishMessage заворачивает payload в конверт события и публикует
// его в exchange леджера с ключом routingkey.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(Event{
		Type:       routingkey,
		OccurredAt: time.Now().UTC(),
		Payload:    message,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
