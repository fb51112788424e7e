package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher sends campaign commands straight to the command queue
// through the default exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg CommandMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := encodeCommand(msg, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // channel is per publish

	if err := ch.PublishWithContext(ctx, "", CommandQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s command for campaign %s: %w", msg.Action, msg.CampaignID, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// encodeCommand builds a persistent publishing. Interrupts carry a higher
// priority than runs so a pause is not stuck behind queued work.
func encodeCommand(msg CommandMessage, at time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid command message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal command message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     at.UTC(),
		MessageId:     msg.CampaignID,
		CorrelationId: msg.CorrelationID,
		Type:          string(msg.Action),
		Priority:      PriorityValue(msg.Action),
		Body:          body,
	}, nil
}
