package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// settlement is what happens to a delivery once the handler returns.
type settlement int

const (
	settleAck settlement = iota
	settleDeadLetter
	settleRequeue
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is done, re-subscribing with backoff whenever the
// channel or connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := initialBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, handler)
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("command subscription lost",
			zap.Error(err),
			zap.Duration("retryIn", wait),
		)

		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // closed with the subscription

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, CommandQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", CommandQueueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	return settle(d, c.process(ctx, d, handler))
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) settlement {
	msg, err := decodeCommand(d.Body)
	if err != nil {
		c.logger.Warn("dead-lettering malformed command",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		return settleDeadLetter
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("command not accepted, requeueing",
			zap.Error(err),
			zap.String("campaignId", msg.CampaignID),
			zap.String("action", string(msg.Action)),
			zap.String("correlationId", msg.CorrelationID),
		)
		return settleRequeue
	}
	return settleAck
}

func decodeCommand(body []byte) (CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return CommandMessage{}, fmt.Errorf("decode command: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return CommandMessage{}, err
	}
	return msg, nil
}

func settle(d amqp.Delivery, outcome settlement) error {
	var err error
	switch outcome {
	case settleDeadLetter:
		err = d.Reject(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
