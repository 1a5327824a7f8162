package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic-обменник событий жизненного цикла executions.
//
// Ключи маршрутизации имеют вид execution.<kind>, например
// execution.completed или execution.step_progress. Потребители
// объявляют собственные очереди и биндят их по нужной маске
// (execution.*, execution.failed и т.д.).
const ExchangeEvents Exchange = "articulo.events"

// SetupTopology объявляет обменник событий. Очередей не создаём:
// хранение на стороне подписчика, сам оркестратор только публикует.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			"topic",                // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}
		return nil
	})
}
