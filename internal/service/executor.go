package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryDelay  = 2 * time.Second
	defaultSendTimeout = 15 * time.Second
)

type ExecutorConfig struct {
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// Executor runs the send loop of one campaign. A run stops when the campaign
// leaves sending, when ctx is canceled, or when every recipient has an outcome.
type Executor struct {
	campaigns   repository.CampaignRepository
	deliveries  repository.DeliveryRepository
	resolver    Resolver
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	metrics     *observability.Metrics
	logger      *zap.Logger
	retryDelay  time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	campaigns repository.CampaignRepository,
	deliveries repository.DeliveryRepository,
	resolver Resolver,
	transport provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	cfg ExecutorConfig,
	logger *zap.Logger,
) (*Executor, error) {
	if campaigns == nil || deliveries == nil || resolver == nil || transport == nil {
		return nil, fmt.Errorf("executor dependencies are required")
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		campaigns:   campaigns,
		deliveries:  deliveries,
		resolver:    resolver,
		provider:    transport,
		rateLimiter: rateLimiter,
		logger:      logger,
		retryDelay:  cfg.RetryDelay,
		sendTimeout: cfg.SendTimeout,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

type deliveryOutcome struct {
	attempts  int
	response  *provider.ProviderResponse
	err       error
	succeeded bool
}

// Run executes the campaign until it completes, trips the failure breaker, or
// is stopped externally. Store writes are not bound to ctx, so an interrupted
// run still persists the outcome of an in-flight send.
func (e *Executor) Run(ctx context.Context, campaignID string) error {
	logger := observability.CampaignLogger(e.logger, ctx, campaignID)
	storeCtx := context.WithoutCancel(ctx)

	campaign, err := e.campaigns.GetByID(storeCtx, campaignID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("campaign not found, skipping run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status != domain.StatusSending {
		logger.Info("campaign is not sending, skipping run", zap.String("status", campaign.Status.String()))
		return nil
	}

	e.metrics.IncCampaignsRunning()
	defer e.metrics.DecCampaignsRunning()

	remaining, err := e.remainingAudience(ctx, storeCtx, campaign)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("campaign run interrupted during audience resolution")
			return nil
		}
		e.abortWithError(storeCtx, logger, campaign, err)
		return nil
	}

	stats := campaign.Stats
	stats.TotalTargeted = stats.Processed() + len(remaining)
	if err := e.campaigns.SaveStats(storeCtx, campaignID, stats); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("campaign became final during audience resolution")
			return nil
		}
		return fmt.Errorf("failed to save targeted count: %w", err)
	}

	logger.Info("campaign run started",
		zap.Int("totalTargeted", stats.TotalTargeted),
		zap.Int("remaining", len(remaining)),
	)

	for i, recipient := range remaining {
		if i > 0 && campaign.Settings.SendInterval > 0 {
			if err := e.sleep(ctx, campaign.Settings.SendInterval); err != nil {
				logger.Info("campaign run interrupted", zap.Int("processed", stats.Processed()))
				return nil
			}
		}
		if ctx.Err() != nil {
			logger.Info("campaign run interrupted", zap.Int("processed", stats.Processed()))
			return nil
		}

		status, err := e.campaigns.GetStatus(storeCtx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to check campaign status: %w", err)
		}
		if status != domain.StatusSending {
			logger.Info("campaign left sending state, stopping run",
				zap.String("status", status.String()),
				zap.Int("processed", stats.Processed()),
			)
			return nil
		}

		outcome, interrupted := e.deliver(ctx, campaign, recipient)
		if interrupted {
			logger.Info("campaign run interrupted before recipient outcome",
				zap.String("recipientId", recipient.ID),
			)
			return nil
		}

		if outcome.succeeded {
			stats.Sent++
			stats.Delivered++
			e.metrics.IncMessageSent(e.provider.Name())
		} else {
			stats.Failed++
			e.metrics.IncMessageFailed(e.provider.Name(), provider.Reason(outcome.err))
			logger.Warn("recipient delivery failed",
				zap.String("recipientId", recipient.ID),
				zap.Int("attempts", outcome.attempts),
				zap.Error(outcome.err),
			)
		}

		// A campaign cancelled while the send was in flight keeps the stats it
		// had when it became final.
		if err := e.campaigns.SaveStats(storeCtx, campaignID, stats); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Warn("campaign became final during send, outcome not recorded",
					zap.String("recipientId", recipient.ID),
					zap.Bool("succeeded", outcome.succeeded),
				)
				return nil
			}
			logger.Error("failed to persist campaign progress", zap.Error(err))
		}
		e.recordDelivery(storeCtx, logger, campaignID, recipient.ID, outcome)

		if rate, ok := stats.FailureRate(); ok && rate > campaign.Settings.PauseOnFailureRate {
			e.tripBreaker(storeCtx, logger, campaign, stats, rate)
			return nil
		}
	}

	completedAt := e.now().UTC()
	err = e.transition(storeCtx, campaignID, repository.TransitionParams{
		From:        []domain.CampaignStatus{domain.StatusSending},
		To:          domain.StatusCompleted,
		CompletedAt: &completedAt,
		Log: domain.NewExecutionLog(completedAt, domain.EventCompleted,
			fmt.Sprintf("Campaign finished. Sent: %d, Failed: %d", stats.Sent, stats.Failed),
			map[string]any{
				"totalTargeted": stats.TotalTargeted,
				"sent":          stats.Sent,
				"failed":        stats.Failed,
			}),
	})
	if errors.Is(err, domain.ErrConflict) {
		logger.Info("campaign status changed before completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}

	logger.Info("campaign completed", zap.Int("sent", stats.Sent), zap.Int("failed", stats.Failed))
	return nil
}

func (e *Executor) remainingAudience(ctx, storeCtx context.Context, campaign *domain.Campaign) ([]domain.Recipient, error) {
	audience, err := e.resolver.Resolve(ctx, campaign.TargetCriteria)
	if err != nil {
		return nil, err
	}

	processed, err := e.deliveries.ProcessedRecipientIDs(storeCtx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed recipients: %w", err)
	}
	if len(processed) == 0 {
		return audience, nil
	}

	remaining := make([]domain.Recipient, 0, len(audience))
	for _, recipient := range audience {
		if _, done := processed[recipient.ID]; done {
			continue
		}
		remaining = append(remaining, recipient)
	}
	return remaining, nil
}

// deliver sends to one recipient with bounded retries. interrupted is true
// when ctx ended before the recipient had an outcome.
func (e *Executor) deliver(ctx context.Context, campaign *domain.Campaign, recipient domain.Recipient) (deliveryOutcome, bool) {
	msg := provider.OutboundMessage{
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		Content:     campaign.Message,
	}
	transport := e.provider.Name()

	maxAttempts := max(campaign.Settings.MaxRetries, 1)
	outcome := deliveryOutcome{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && e.retryDelay > 0 {
			if err := e.sleep(ctx, e.retryDelay); err != nil {
				return outcome, true
			}
		}

		if e.rateLimiter != nil {
			if err := e.rateLimiter.Wait(ctx, transport); err != nil {
				if ctx.Err() != nil {
					return outcome, true
				}
				e.logger.Warn("rate limiter unavailable, sending without it",
					zap.String("transport", transport),
					zap.Error(err),
				)
			}
		}

		outcome.attempts = attempt
		response, err := e.send(ctx, msg)
		if err == nil {
			outcome.response = response
			outcome.err = nil
			outcome.succeeded = true
			return outcome, false
		}

		outcome.err = err
		if provider.IsPermanent(err) {
			break
		}
	}

	return outcome, false
}

// send is detached from ctx cancellation so a pause never aborts a message
// the transport may already have accepted.
func (e *Executor) send(ctx context.Context, msg provider.OutboundMessage) (*provider.ProviderResponse, error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sendTimeout)
	defer cancel()

	transport := e.provider.Name()
	e.metrics.IncSendAttempt(transport)

	start := e.now()
	response, err := e.provider.Send(sendCtx, msg)
	e.metrics.ObserveSendDuration(transport, e.now().Sub(start))
	return response, err
}

func (e *Executor) recordDelivery(ctx context.Context, logger *zap.Logger, campaignID, recipientID string, outcome deliveryOutcome) {
	delivery := &domain.Delivery{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Status:      domain.DeliverySent,
		Attempts:    outcome.attempts,
		CreatedAt:   e.now().UTC(),
	}
	if !outcome.succeeded {
		delivery.Status = domain.DeliveryFailed
		if outcome.err != nil {
			reason := outcome.err.Error()
			delivery.Error = &reason
		}
	}
	if outcome.response != nil && outcome.response.MessageID != "" {
		messageID := outcome.response.MessageID
		delivery.ProviderMessageID = &messageID
	}

	if err := e.deliveries.Record(ctx, delivery); err != nil {
		logger.Warn("failed to record delivery",
			zap.String("recipientId", recipientID),
			zap.Error(err),
		)
	}
}

func (e *Executor) tripBreaker(ctx context.Context, logger *zap.Logger, campaign *domain.Campaign, stats domain.CampaignStats, rate float64) {
	threshold := campaign.Settings.PauseOnFailureRate
	err := e.transition(ctx, campaign.ID, repository.TransitionParams{
		From: []domain.CampaignStatus{domain.StatusSending},
		To:   domain.StatusFailed,
		Log: domain.NewExecutionLog(e.now(), domain.EventFailed,
			fmt.Sprintf("Campaign stopped: failure rate %.1f%% exceeded threshold %.1f%%", rate*100, threshold*100),
			map[string]any{
				"failureRate": rate,
				"threshold":   threshold,
				"sent":        stats.Sent,
				"failed":      stats.Failed,
			}),
	})
	if errors.Is(err, domain.ErrConflict) {
		logger.Info("campaign status changed before failure breaker applied")
		return
	}
	if err != nil {
		logger.Error("failed to mark campaign as failed", zap.Error(err))
		return
	}

	e.metrics.IncBreakerTrip()
	logger.Warn("campaign failure breaker tripped",
		zap.Float64("failureRate", rate),
		zap.Float64("threshold", threshold),
	)
}

func (e *Executor) abortWithError(ctx context.Context, logger *zap.Logger, campaign *domain.Campaign, cause error) {
	logger.Error("campaign run aborted", zap.Error(cause))

	err := e.transition(ctx, campaign.ID, repository.TransitionParams{
		From: domain.SourcesFor(domain.StatusError),
		To:   domain.StatusError,
		Log: domain.NewExecutionLog(e.now(), domain.EventError,
			fmt.Sprintf("Campaign aborted: %v", cause),
			map[string]any{"error": cause.Error()}),
	})
	if err != nil {
		logger.Error("failed to mark campaign as errored", zap.Error(err))
	}
}

func (e *Executor) transition(ctx context.Context, campaignID string, params repository.TransitionParams) error {
	if err := e.campaigns.Transition(ctx, campaignID, params); err != nil {
		return err
	}
	e.metrics.IncTransition(params.To.String())
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
