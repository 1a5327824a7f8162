package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/android2133/articulo492/internal/broadcast"
)

// Publisher ретранслирует события прогресса executions в RabbitMQ.
//
// Ретрансляция best-effort, как и внутрипроцессная доставка: ошибка
// публикации логируется и не влияет на ход execution.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishExecutionEvent публикует событие в articulo.events с ключом
// execution.<kind>.
func (p *Publisher) PublishExecutionEvent(ctx context.Context, event broadcast.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := RoutingKey("execution." + string(event.Kind))

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.New().String(),
				Timestamp:    event.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeEvents, routingKey, err)
		}

		p.logger.Debug("published event",
			"routing_key", routingKey,
			"execution_id", event.ExecutionID,
		)
		return nil
	})
}

// relayBuffer — ёмкость очереди ретрансляции. Переполнение означает
// потерю события для внешнего брокера, издатель не ждёт.
const relayBuffer = 256

// RelayAll подключает Publisher как глобальный приёмник hub'а и
// ретранслирует все события до отмены ctx.
func (p *Publisher) RelayAll(ctx context.Context, hub *broadcast.Hub) {
	events := make(chan broadcast.Event, relayBuffer)
	hub.SetSink(func(event broadcast.Event) {
		select {
		case events <- event:
		default:
			p.logger.Warn("relay queue full, event dropped",
				"execution_id", event.ExecutionID,
				"kind", event.Kind,
			)
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				if err := p.PublishExecutionEvent(ctx, event); err != nil {
					p.logger.Warn("event relay failed",
						"execution_id", event.ExecutionID,
						"error", err,
					)
				}
			}
		}
	}()
}
