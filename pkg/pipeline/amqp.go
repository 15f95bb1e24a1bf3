package pipeline

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPBroker is the production Broker backed by RabbitMQ. Dialing declares
// the full topology so publishers and consumers can start in any order.
type AMQPBroker struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

// DialAMQP connects to the broker at url and declares exchanges, queues and
// bindings. Everything is durable; declarations are idempotent.
func DialAMQP(url string, logger zerolog.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	broker := &AMQPBroker{conn: conn, ch: ch, logger: logger}
	if err := broker.declareTopology(); err != nil {
		broker.Close()
		return nil, err
	}

	logger.Info().Str("url", url).Msg("Connected to message broker")
	return broker, nil
}

func (b *AMQPBroker) declareTopology() error {
	for _, bind := range topology {
		if err := b.ch.ExchangeDeclare(bind.exchange, string(bind.kind), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", bind.exchange, err)
		}
		if _, err := b.ch.QueueDeclare(bind.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", bind.queue, err)
		}
		if err := b.ch.QueueBind(bind.queue, bind.pattern, bind.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", bind.queue, bind.exchange, err)
		}
	}
	return nil
}

// Publish sends a persistent JSON message to the exchange.
func (b *AMQPBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	err := b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	b.logger.Debug().
		Str("exchange", exchange).
		Str("routing_key", routingKey).
		Int("bytes", len(body)).
		Msg("Published message")
	return nil
}

// Consume opens a dedicated channel for the queue with prefetch 1 and adapts
// its deliveries. The returned channel closes when ctx is cancelled or the
// connection drops.
func (b *AMQPBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				wrapped := Delivery{
					Body: d.Body,
					Ack:  func() error { return d.Ack(false) },
					Nack: func(requeue bool) error { return d.Nack(false, requeue) },
				}
				select {
				case out <- wrapped:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the publish channel and the connection.
func (b *AMQPBroker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
