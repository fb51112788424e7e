package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
)

// CommandDispatcher forwards run and interrupt requests to the worker
// process through the command queue.
type CommandDispatcher struct {
	publisher Publisher
}

func NewCommandDispatcher(publisher Publisher) *CommandDispatcher {
	return &CommandDispatcher{publisher: publisher}
}

func (d *CommandDispatcher) Dispatch(ctx context.Context, campaignID string) error {
	return d.publish(ctx, campaignID, ActionRun)
}

func (d *CommandDispatcher) Interrupt(ctx context.Context, campaignID string) error {
	return d.publish(ctx, campaignID, ActionInterrupt)
}

func (d *CommandDispatcher) publish(ctx context.Context, campaignID string, action CommandAction) error {
	if d == nil || d.publisher == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	return d.publisher.Publish(ctx, CommandMessage{
		CampaignID:    campaignID,
		Action:        action,
		CorrelationID: correlationID,
	})
}
