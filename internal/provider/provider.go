package provider

import "context"

// OutboundMessage is one campaign message addressed to one recipient.
type OutboundMessage struct {
	CampaignID  string
	RecipientID string
	Content     string
}

// Provider is the outbound Message Transport port.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error)
}

// ProviderResponse stores transport call metadata for the delivery record.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
