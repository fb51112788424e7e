package domain

import (
	"fmt"
	"strings"
	"time"
)

// Recipient is the engine's read-only view of a directory contact.
type Recipient struct {
	ID                string
	Tags              []string
	LastInteractionAt time.Time
	OptedIn           bool
	IsActive          bool
}

// DeliveryStatus is the final outcome for one recipient of a campaign.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case DeliverySent, DeliveryFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
}

// Delivery records the outcome of messaging one recipient.
type Delivery struct {
	ID                string
	CampaignID        string
	RecipientID       string
	Status            DeliveryStatus
	Attempts          int
	Error             *string
	ProviderMessageID *string
	CreatedAt         time.Time
}
