package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/forgo/queuedesk/internal/model"
)

// publishChannel is the part of *amqp.Channel used for publishing
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RoutingKey returns the topic an instruction is published under
func RoutingKey(kind model.InstructionKind) string {
	return "instruction." + string(kind)
}

// Publisher sends instructions to a topic exchange
type Publisher struct {
	mu          sync.Mutex
	conn        *amqp.Connection
	ch          publishChannel
	closer      func() error
	exchange    string
	contentType string
}

// NewPublisher dials the broker and declares the exchange
func NewPublisher(url, exchange, contentType string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisher(ch, exchange, contentType)
	p.conn = conn
	p.closer = ch.Close
	return p, nil
}

func newPublisher(ch publishChannel, exchange, contentType string) *Publisher {
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	return &Publisher{ch: ch, exchange: exchange, contentType: contentType}
}

// Publish sends each instruction with its routing key and the caller's
// trace context in the message headers
func (p *Publisher) Publish(ctx context.Context, instructions []model.Instruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, in := range instructions {
		body, err := Marshal(p.contentType, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		headers := amqp.Table{}
		otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

		err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(in.Kind), false, false, amqp.Publishing{
			ContentType:  p.contentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    in.IssuedOn,
			Headers:      headers,
			Body:         body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", in.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	if p.closer != nil {
		_ = p.closer()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
