package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// Dispatcher hands campaign runs to an executor and interrupts them.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string) error
	Interrupt(ctx context.Context, campaignID string) error
}

type CampaignService struct {
	campaigns  repository.CampaignRepository
	dispatcher Dispatcher
	deliveries repository.DeliveryRepository
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

type SchedulerStats struct {
	ByStatus          []repository.StatusSummary
	UpcomingScheduled int64
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	dispatcher Dispatcher,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetDeliveries enables ListDeliveries.
func (s *CampaignService) SetDeliveries(deliveries repository.DeliveryRepository) {
	if s == nil {
		return
	}
	s.deliveries = deliveries
}

// Create stores a new campaign as draft, or as scheduled when ScheduledAt is set.
func (s *CampaignService) Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	campaign.ID = uuid.NewString()
	campaign.Status = domain.StatusDraft
	if campaign.ScheduledAt != nil {
		scheduledAt := campaign.ScheduledAt.UTC()
		campaign.ScheduledAt = &scheduledAt
		campaign.Status = domain.StatusScheduled
	}
	campaign.Stats = domain.CampaignStats{}
	campaign.StartedAt = nil
	campaign.CompletedAt = nil
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	campaign.ExecutionLogs = []domain.ExecutionLog{
		domain.NewExecutionLog(now, domain.EventCreated, "Campaign created", map[string]any{
			"status":    campaign.Status.String(),
			"createdBy": campaign.CreatedBy,
		}),
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	observability.CampaignLogger(s.logger, ctx, campaign.ID).Info("campaign created",
		zap.String("status", campaign.Status.String()),
		zap.String("type", campaign.Type.String()),
	)
	return campaign, nil
}

func (s *CampaignService) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, params)
}

// Schedule moves a draft campaign to scheduled for a future time.
func (s *CampaignService) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	now := s.now().UTC()
	if !at.After(now) {
		return nil, fmt.Errorf("%w: scheduledAt must be in the future", domain.ErrValidation)
	}

	scheduledAt := at.UTC()
	err := s.transition(ctx, id, repository.TransitionParams{
		From:        []domain.CampaignStatus{domain.StatusDraft},
		To:          domain.StatusScheduled,
		ScheduledAt: &scheduledAt,
		Log: domain.NewExecutionLog(now, domain.EventScheduled,
			fmt.Sprintf("Campaign scheduled for %s", scheduledAt.Format(time.RFC3339)),
			map[string]any{"scheduledAt": scheduledAt.Format(time.RFC3339)}),
	})
	if err != nil {
		return nil, err
	}
	return s.campaigns.GetByID(ctx, id)
}

// Execute starts a draft or scheduled campaign. Executing a campaign that is
// already sending changes nothing.
func (s *CampaignService) Execute(ctx context.Context, id string) (*domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case domain.StatusSending:
		return campaign, nil
	case domain.StatusDraft, domain.StatusScheduled:
	default:
		return nil, fmt.Errorf("%w: cannot execute campaign in status %s", domain.ErrInvalidTransition, campaign.Status)
	}

	startedAt := s.now().UTC()
	err = s.transition(ctx, id, repository.TransitionParams{
		From:      []domain.CampaignStatus{domain.StatusDraft, domain.StatusScheduled},
		To:        domain.StatusSending,
		StartedAt: &startedAt,
		Log:       domain.NewExecutionLog(startedAt, domain.EventStarted, "Campaign execution started", nil),
	})
	if errors.Is(err, domain.ErrConflict) {
		current, getErr := s.campaigns.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.StatusSending {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign started but dispatch failed: %w", err)
	}

	return s.campaigns.GetByID(ctx, id)
}

// StartScheduled flips a due scheduled campaign to sending and dispatches it.
// It reports false when another caller started or changed the campaign first.
func (s *CampaignService) StartScheduled(ctx context.Context, id string) (bool, error) {
	startedAt := s.now().UTC()
	err := s.transition(ctx, id, repository.TransitionParams{
		From:      []domain.CampaignStatus{domain.StatusScheduled},
		To:        domain.StatusSending,
		StartedAt: &startedAt,
		Log:       domain.NewExecutionLog(startedAt, domain.EventStarted, "Scheduled campaign started", nil),
	})
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return true, fmt.Errorf("campaign started but dispatch failed: %w", err)
	}
	s.metrics.IncScheduledStarted()
	return true, nil
}

// Pause stops a sending campaign at its next recipient boundary.
func (s *CampaignService) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	err := s.transition(ctx, id, repository.TransitionParams{
		From: []domain.CampaignStatus{domain.StatusSending},
		To:   domain.StatusPaused,
		Log:  domain.NewExecutionLog(s.now(), domain.EventPaused, "Campaign paused", nil),
	})
	if err != nil {
		return nil, err
	}

	s.interrupt(ctx, id)
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	err := s.transition(ctx, id, repository.TransitionParams{
		From: []domain.CampaignStatus{domain.StatusPaused},
		To:   domain.StatusSending,
		Log:  domain.NewExecutionLog(s.now(), domain.EventResumed, "Campaign resumed", nil),
	})
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign resumed but dispatch failed: %w", err)
	}
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	err := s.transition(ctx, id, repository.TransitionParams{
		From: domain.SourcesFor(domain.StatusCancelled),
		To:   domain.StatusCancelled,
		Log:  domain.NewExecutionLog(s.now(), domain.EventCancelled, "Campaign cancelled", nil),
	})
	if err != nil {
		return nil, err
	}

	s.interrupt(ctx, id)
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) GetStats(ctx context.Context, id string) (*domain.StatsSnapshot, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot := campaign.Snapshot()
	return &snapshot, nil
}

// ListDeliveries returns the recorded per-recipient outcomes of a campaign,
// optionally filtered by status.
func (s *CampaignService) ListDeliveries(ctx context.Context, id string, status *domain.DeliveryStatus) ([]domain.Delivery, error) {
	if s.deliveries == nil {
		return nil, errors.New("delivery repository is not configured")
	}
	if _, err := s.campaigns.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListByCampaign(ctx, id, status)
}

func (s *CampaignService) GetGeneralStats(ctx context.Context, from, to *time.Time) ([]repository.StatusSummary, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrValidation)
	}
	return s.campaigns.GetGeneralStats(ctx, from, to)
}

func (s *CampaignService) GetSchedulerStats(ctx context.Context) (*SchedulerStats, error) {
	byStatus, err := s.campaigns.GetGeneralStats(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	upcoming, err := s.campaigns.CountUpcomingScheduled(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return &SchedulerStats{ByStatus: byStatus, UpcomingScheduled: upcoming}, nil
}

func (s *CampaignService) transition(ctx context.Context, id string, params repository.TransitionParams) error {
	if err := s.campaigns.Transition(ctx, id, params); err != nil {
		return err
	}
	s.metrics.IncTransition(params.To.String())
	observability.CampaignLogger(s.logger, ctx, id).Info("campaign status changed",
		zap.String("to", params.To.String()),
		zap.String("event", params.Log.Event.String()),
	)
	return nil
}

// interrupt is best effort: the executor also notices the status change at
// its next recipient.
func (s *CampaignService) interrupt(ctx context.Context, id string) {
	if err := s.dispatcher.Interrupt(ctx, id); err != nil {
		observability.CampaignLogger(s.logger, ctx, id).Warn("failed to interrupt campaign run", zap.Error(err))
	}
}
