package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/forgo/queuedesk/internal/model"
)

// Dispatcher routes a decoded event to the controller
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) *model.Outcome
}

// ConsumerConfig configures the inbound event queue
type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	// Bindings are routing key patterns bound to Queue. Defaults to "event.#".
	Bindings []string
	// DeadLetterExchange receives events that cannot be decoded. Optional.
	DeadLetterExchange string
	Prefetch           int
}

// Consumer reads event envelopes from a queue and dispatches them
type Consumer struct {
	cfg        ConsumerConfig
	dispatcher Dispatcher
	logger     *slog.Logger

	conn    *amqp.Connection
	ch      *amqp.Channel
	replies publishChannel
}

// NewConsumer dials the broker and declares the queue topology
func NewConsumer(cfg ConsumerConfig, dispatcher Dispatcher, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = []string{"event.#"}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		conn:       conn,
		ch:         ch,
		replies:    ch,
	}, nil
}

func declare(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	var args amqp.Table
	if cfg.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter exchange: %w", err)
		}
		dlq := cfg.Queue + ".dead"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter queue: %w", err)
		}
		if err := ch.QueueBind(dlq, "", cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind dead letter queue: %w", err)
		}
		args = amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range cfg.Bindings {
		if err := ch.QueueBind(cfg.Queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", key, err)
		}
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("event consumer started", "queue", c.cfg.Queue, "prefetch", c.cfg.Prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle dispatches one delivery. Undecodable bodies are rejected without
// requeue so the broker dead-letters them; everything else is acked once
// the outcome has been replied.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))

	ev, err := DecodeEvent(d.ContentType, d.Body)
	if err != nil {
		c.logger.Warn("dropping undecodable event",
			"message_id", d.MessageId,
			"routing_key", d.RoutingKey,
			"content_type", d.ContentType,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}

	out := c.dispatcher.Dispatch(ctx, ev)
	if out.Rejected() {
		c.logger.Debug("event rejected",
			"event", ev.Type(),
			"community_id", ev.Community(),
			"reason", out.Rejection.Reason,
		)
	}

	if d.ReplyTo != "" {
		if err := c.reply(ctx, d, out); err != nil {
			c.logger.Error("failed to reply with outcome",
				"event", ev.Type(),
				"reply_to", d.ReplyTo,
				"error", err,
			)
		}
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack event", "event", ev.Type(), "error", err)
	}
}

func (c *Consumer) reply(ctx context.Context, d amqp.Delivery, out *model.Outcome) error {
	contentType := normalize(d.ContentType)
	body, err := Marshal(contentType, out)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	return c.replies.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   contentType,
		CorrelationId: d.CorrelationId,
		Headers:       headers,
		Body:          body,
	})
}

// Close closes the channel and connection
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
