// Package events publishes session lifecycle events to a RabbitMQ topic
// exchange. Downstream consumers (reporting, admin dashboards) subscribe to
// these instead of polling the queue tables.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for published events.
const (
	SessionFailed = "session.failed"
	OfferIssued   = "session.offer.issued"
)

// FailedPayload describes a session the sweeper marked failed.
type FailedPayload struct {
	SessionID int64  `json:"session_id"`
	Reason    string `json:"reason"`
}

// OfferPayload describes a fresh offer set issued by the assignment engine.
type OfferPayload struct {
	SessionID     int64   `json:"session_id"`
	AstrologerIDs []int64 `json:"astrologer_ids"`
}

type envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Publisher emits lifecycle events. Publishing is best-effort: failures are
// logged, never returned to the matching core.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any)
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) {
	body, err := json.Marshal(envelope{
		Event:     routingKey,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      payload,
	})
	if err != nil {
		log.Printf("Error marshaling %s event: %v", routingKey, err)
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Printf("Error publishing %s event: %v", routingKey, err)
	}
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Nop returns a publisher that discards everything, for when events are
// disabled in config and in tests.
func Nop() Publisher {
	return nopPublisher{}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) {}
func (nopPublisher) Close() error                         { return nil }
