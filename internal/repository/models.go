package repository

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/lib/pq"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID          string                `gorm:"type:uuid;primaryKey"`
	Name        string                `gorm:"type:varchar(255);not null"`
	Description string                `gorm:"type:text;not null;default:''"`
	Type        domain.CampaignType   `gorm:"type:varchar(20);not null"`
	Message     string                `gorm:"type:text;not null"`
	Status      domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	CreatedBy   string                `gorm:"type:varchar(255);not null"`

	TargetAllActive          bool           `gorm:"not null;default:false"`
	TargetInactiveDays       *int           `gorm:"type:int"`
	TargetTags               pq.StringArray `gorm:"type:text[]"`
	TargetSpecificRecipients pq.StringArray `gorm:"type:text[]"`
	TargetRequiresOptIn      bool           `gorm:"not null;default:true"`

	StatsTotalTargeted int `gorm:"not null;default:0"`
	StatsSent          int `gorm:"not null;default:0"`
	StatsFailed        int `gorm:"not null;default:0"`
	StatsDelivered     int `gorm:"not null;default:0"`

	SendIntervalMs     int64   `gorm:"not null;default:1000"`
	MaxRetries         int     `gorm:"not null;default:3"`
	PauseOnFailureRate float64 `gorm:"not null;default:0.1"`

	ScheduledAt *time.Time `gorm:"type:timestamptz"`
	StartedAt   *time.Time `gorm:"type:timestamptz"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// ExecutionLogModel is one row of a campaign's append-only audit trail.
type ExecutionLogModel struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	CampaignID string          `gorm:"type:uuid;not null"`
	Event      domain.LogEvent `gorm:"type:varchar(20);not null"`
	Message    string          `gorm:"type:text;not null"`
	Data       string          `gorm:"type:jsonb;not null;default:'{}'"`
	Timestamp  time.Time       `gorm:"type:timestamptz;not null"`
}

func (ExecutionLogModel) TableName() string {
	return "campaign_execution_logs"
}

// DeliveryModel is the persistence model for campaign_deliveries.
type DeliveryModel struct {
	ID                string                `gorm:"type:uuid;primaryKey"`
	CampaignID        string                `gorm:"type:uuid;not null"`
	RecipientID       string                `gorm:"type:varchar(255);not null"`
	Status            domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	Attempts          int                   `gorm:"not null;default:0"`
	Error             *string               `gorm:"type:text"`
	ProviderMessageID *string               `gorm:"type:varchar(255)"`
	CreatedAt         time.Time
}

func (DeliveryModel) TableName() string {
	return "campaign_deliveries"
}

// RecipientModel is the persistence model for the recipient directory.
type RecipientModel struct {
	ID                string         `gorm:"type:varchar(255);primaryKey"`
	Tags              pq.StringArray `gorm:"type:text[]"`
	LastInteractionAt time.Time      `gorm:"type:timestamptz;not null"`
	OptedIn           bool           `gorm:"not null;default:false"`
	IsActive          bool           `gorm:"not null;default:true"`
}

func (RecipientModel) TableName() string {
	return "recipients"
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:                       c.ID,
		Name:                     c.Name,
		Description:              c.Description,
		Type:                     c.Type,
		Message:                  c.Message,
		Status:                   c.Status,
		CreatedBy:                c.CreatedBy,
		TargetAllActive:          c.TargetCriteria.AllActive,
		TargetInactiveDays:       c.TargetCriteria.InactiveDays,
		TargetTags:               pq.StringArray(c.TargetCriteria.Tags),
		TargetSpecificRecipients: pq.StringArray(c.TargetCriteria.SpecificRecipients),
		TargetRequiresOptIn:      c.TargetCriteria.RequiresOptIn,
		StatsTotalTargeted:       c.Stats.TotalTargeted,
		StatsSent:                c.Stats.Sent,
		StatsFailed:              c.Stats.Failed,
		StatsDelivered:           c.Stats.Delivered,
		SendIntervalMs:           c.Settings.SendInterval.Milliseconds(),
		MaxRetries:               c.Settings.MaxRetries,
		PauseOnFailureRate:       c.Settings.PauseOnFailureRate,
		ScheduledAt:              c.ScheduledAt,
		StartedAt:                c.StartedAt,
		CompletedAt:              c.CompletedAt,
		CreatedAt:                c.CreatedAt,
		UpdatedAt:                c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Type:        m.Type,
		Message:     m.Message,
		Status:      m.Status,
		CreatedBy:   m.CreatedBy,
		TargetCriteria: domain.TargetCriteria{
			AllActive:          m.TargetAllActive,
			InactiveDays:       m.TargetInactiveDays,
			Tags:               []string(m.TargetTags),
			SpecificRecipients: []string(m.TargetSpecificRecipients),
			RequiresOptIn:      m.TargetRequiresOptIn,
		},
		Stats: domain.CampaignStats{
			TotalTargeted: m.StatsTotalTargeted,
			Sent:          m.StatsSent,
			Failed:        m.StatsFailed,
			Delivered:     m.StatsDelivered,
		},
		Settings: domain.CampaignSettings{
			SendInterval:       time.Duration(m.SendIntervalMs) * time.Millisecond,
			MaxRetries:         m.MaxRetries,
			PauseOnFailureRate: m.PauseOnFailureRate,
		},
		ScheduledAt: m.ScheduledAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func executionLogModelFromDomain(id string, campaignID string, l domain.ExecutionLog) (*ExecutionLogModel, error) {
	data := l.Data
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &ExecutionLogModel{
		ID:         id,
		CampaignID: campaignID,
		Event:      l.Event,
		Message:    l.Message,
		Data:       string(encoded),
		Timestamp:  l.Timestamp,
	}, nil
}

func executionLogModelToDomain(m *ExecutionLogModel) domain.ExecutionLog {
	data := map[string]any{}
	if m.Data != "" {
		if err := json.Unmarshal([]byte(m.Data), &data); err != nil {
			data = map[string]any{}
		}
	}

	return domain.ExecutionLog{
		Timestamp: m.Timestamp,
		Event:     m.Event,
		Message:   m.Message,
		Data:      data,
	}
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:                d.ID,
		CampaignID:        d.CampaignID,
		RecipientID:       d.RecipientID,
		Status:            d.Status,
		Attempts:          d.Attempts,
		Error:             d.Error,
		ProviderMessageID: d.ProviderMessageID,
		CreatedAt:         d.CreatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		RecipientID:       m.RecipientID,
		Status:            m.Status,
		Attempts:          m.Attempts,
		Error:             m.Error,
		ProviderMessageID: m.ProviderMessageID,
		CreatedAt:         m.CreatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) domain.Recipient {
	return domain.Recipient{
		ID:                m.ID,
		Tags:              []string(m.Tags),
		LastInteractionAt: m.LastInteractionAt,
		OptedIn:           m.OptedIn,
		IsActive:          m.IsActive,
	}
}
