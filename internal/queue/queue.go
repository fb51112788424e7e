package queue

import (
	"context"
)

// Publisher publishes campaign commands.
type Publisher interface {
	Publish(ctx context.Context, msg CommandMessage) error
	Close() error
}

// MessageHandler handles a consumed command.
type MessageHandler func(ctx context.Context, msg CommandMessage) error

// Consumer consumes campaign commands.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

const (
	CommandQueueName = "campaign.commands"
	DLQName          = "dlq." + CommandQueueName

	commandRoutingKey = "campaign.commands"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the command queue.
	queueMaxPriority int32 = 2
)

// PriorityValue maps a command to a RabbitMQ message priority. Interrupts
// overtake queued runs.
func PriorityValue(action CommandAction) uint8 {
	switch action {
	case ActionInterrupt:
		return 2
	case ActionRun:
		return 1
	default:
		return 0
	}
}
