// Package notify publishes report-ready events for the external email
// service. Events carry the order reference and object key only.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventReportReady is the message type header of report events.
const EventReportReady = "report_ready"

// ReportReady is the event body.
type ReportReady struct {
	OrderRef    string    `json:"order_ref"`
	ReportKey   string    `json:"report_key"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends events to a durable queue on the default exchange.
type Publisher struct {
	channel Channel
	queue   string
	log     *logrus.Logger
}

// Dial connects to the broker, opens a channel and declares queue. The
// returned connection must be closed by the caller.
func Dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return conn, ch, nil
}

// NewPublisher creates a publisher on an open channel.
func NewPublisher(ch Channel, queue string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		channel: ch,
		queue:   queue,
		log:     logger,
	}
}

// Publish sends one persistent report-ready message.
func (p *Publisher) Publish(ctx context.Context, event ReportReady) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.GeneratedAt,
		Type:         EventReportReady,
		Headers: amqp.Table{
			"message_type": "JSON",
		},
	}

	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"order_ref": event.OrderRef,
		"queue":     p.queue,
	}).Info("Report ready event published")
	return nil
}
