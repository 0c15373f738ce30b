package notify

import (
	"context"
	"fmt"
	"time"

	model "auction-rounds/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sugawarayuuta/sonnet"
)

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes events to a topic exchange, routed by event type
type AMQPPublisher struct {
	ch       Channel
	exchange string
}

// NewAMQPPublisher declares the topic exchange and returns a publisher bound to it
func NewAMQPPublisher(ch Channel, exchange string) (*AMQPPublisher, error) {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

// Publish sends the event as a JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, event model.Event) error {
	body, err := sonnet.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		event.Type.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    event.Timestamp,
			Type:         string(event.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", p.exchange, err)
	}
	return nil
}

// AMQPConnection owns the broker connection and its channel
type AMQPConnection struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// DialAMQP opens a connection and a channel to the broker
func DialAMQP(url string) (*AMQPConnection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("error opening connection to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error opening channel: %w", err)
	}
	return &AMQPConnection{conn: conn, Channel: ch}, nil
}

// Close closes the channel and then the connection
func (c *AMQPConnection) Close() error {
	if c.Channel != nil {
		c.Channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
