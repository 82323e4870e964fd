package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisherConfig describes the queue receiving events.
type RabbitMQPublisherConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// RabbitMQPublisher sends JSON events to a declared queue through the
// default exchange.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
}

// NewRabbitMQPublisher dials the broker and declares the queue.
func NewRabbitMQPublisher(cfg RabbitMQPublisherConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url must not be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "tokenflow.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue: %w", err)
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, queue: queue, durable: cfg.Durable}, nil
}

// Publish implements Publisher.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return errors.New("rabbitmq publisher not initialised")
	}
	msg, err := eventMessage(event, p.durable)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
}

func eventMessage(event Event, durable bool) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Type:        string(event.Type),
		MessageId:   fmt.Sprintf("%s:%s:%d", event.RunID, event.State, event.At),
		Timestamp:   time.Unix(event.At, 0).UTC(),
		Body:        body,
	}
	if durable {
		msg.DeliveryMode = amqp.Persistent
	}
	return msg, nil
}

// Close closes the channel and the connection.
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)
