package queue

import (
	"fmt"
	"strings"
)

// CommandAction tells the worker what to do with a campaign.
type CommandAction string

const (
	ActionRun       CommandAction = "run"
	ActionInterrupt CommandAction = "interrupt"
)

func (a CommandAction) IsValid() bool {
	return a == ActionRun || a == ActionInterrupt
}

// CommandMessage is the broker payload sent from the API to the worker.
type CommandMessage struct {
	CampaignID    string        `json:"campaignId"`
	Action        CommandAction `json:"action"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

func (m CommandMessage) Validate() error {
	if strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if !m.Action.IsValid() {
		return fmt.Errorf("invalid action %q", m.Action)
	}
	return nil
}
