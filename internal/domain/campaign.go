package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignType classifies the intent of a campaign.
type CampaignType string

const (
	TypePromotion    CampaignType = "promotion"
	TypeReminder     CampaignType = "reminder"
	TypeAnnouncement CampaignType = "announcement"
	TypeRecovery     CampaignType = "recovery"
	TypeCustom       CampaignType = "custom"
)

func (t CampaignType) String() string { return string(t) }

func (t CampaignType) IsValid() bool {
	switch t {
	case TypePromotion, TypeReminder, TypeAnnouncement, TypeRecovery, TypeCustom:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (CampaignType, error) {
	t := CampaignType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign type %q", ErrValidation, s)
	}
	return t, nil
}

// Settings defaults.
const (
	DefaultSendInterval       = time.Second
	DefaultMaxRetries         = 3
	DefaultPauseOnFailureRate = 0.1
)

// TargetCriteria is the declarative audience filter of a campaign.
type TargetCriteria struct {
	AllActive          bool
	InactiveDays       *int
	Tags               []string
	SpecificRecipients []string
	RequiresOptIn      bool
}

// CampaignStats holds the send counters of a campaign.
type CampaignStats struct {
	TotalTargeted int
	Sent          int
	Failed        int
	Delivered     int
}

// Processed returns the number of recipients with a recorded outcome.
func (s CampaignStats) Processed() int { return s.Sent + s.Failed }

// FailureRate returns failed/(sent+failed). ok is false until at least one
// outcome has been recorded.
func (s CampaignStats) FailureRate() (rate float64, ok bool) {
	processed := s.Processed()
	if processed == 0 {
		return 0, false
	}
	return float64(s.Failed) / float64(processed), true
}

// CampaignSettings tunes the send loop.
type CampaignSettings struct {
	SendInterval       time.Duration
	MaxRetries         int
	PauseOnFailureRate float64
}

func DefaultSettings() CampaignSettings {
	return CampaignSettings{
		SendInterval:       DefaultSendInterval,
		MaxRetries:         DefaultMaxRetries,
		PauseOnFailureRate: DefaultPauseOnFailureRate,
	}
}

// ExecutionLog is one entry of a campaign's append-only audit trail.
type ExecutionLog struct {
	Timestamp time.Time
	Event     LogEvent
	Message   string
	Data      map[string]any
}

func NewExecutionLog(at time.Time, event LogEvent, message string, data map[string]any) ExecutionLog {
	if data == nil {
		data = map[string]any{}
	}
	return ExecutionLog{
		Timestamp: at.UTC(),
		Event:     event,
		Message:   message,
		Data:      data,
	}
}

// Campaign is the aggregate root of a bulk messaging job.
type Campaign struct {
	ID             string
	Name           string
	Description    string
	Type           CampaignType
	Message        string
	TargetCriteria TargetCriteria
	ScheduledAt    *time.Time
	Status         CampaignStatus
	Stats          CampaignStats
	Settings       CampaignSettings
	ExecutionLogs  []ExecutionLog
	CreatedBy      string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if strings.TrimSpace(c.CreatedBy) == "" {
		return fmt.Errorf("%w: createdBy is required", ErrValidation)
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: invalid campaign type %q", ErrValidation, c.Type)
	}
	if c.Status != "" && !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, c.Status)
	}
	if days := c.TargetCriteria.InactiveDays; days != nil && *days < 1 {
		return fmt.Errorf("%w: inactiveDays must be >= 1", ErrValidation)
	}
	if c.Settings.SendInterval < 0 {
		return fmt.Errorf("%w: sendInterval must be >= 0", ErrValidation)
	}
	if c.Settings.MaxRetries < 1 {
		return fmt.Errorf("%w: maxRetries must be >= 1", ErrValidation)
	}
	if rate := c.Settings.PauseOnFailureRate; rate < 0 || rate > 1 {
		return fmt.Errorf("%w: pauseOnFailureRate must be between 0 and 1", ErrValidation)
	}
	return nil
}

// StatsSnapshot is the read model returned for progress queries.
type StatsSnapshot struct {
	CampaignID  string
	Status      CampaignStatus
	Stats       CampaignStats
	FailureRate float64
}

func (c *Campaign) Snapshot() StatsSnapshot {
	rate, _ := c.Stats.FailureRate()
	return StatsSnapshot{
		CampaignID:  c.ID,
		Status:      c.Status,
		Stats:       c.Stats,
		FailureRate: rate,
	}
}
