package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultSchedulerSpec       = "@every 1m"
	defaultSchedulerScanLimit  = 100
	defaultSchedulerStaleAfter = 5 * time.Minute
)

// ScheduledStarter flips a due campaign to sending and dispatches it.
type ScheduledStarter interface {
	StartScheduled(ctx context.Context, id string) (bool, error)
}

// Scheduler starts scheduled campaigns once they are due. Every tick it also
// re-dispatches sending campaigns that have made no progress for staleAfter:
// runs lost to a crash or to a failed dispatch. A live run persists progress
// after each recipient, so it never looks stale.
type Scheduler struct {
	campaigns  repository.CampaignRepository
	starter    ScheduledStarter
	dispatcher Dispatcher
	logger     *zap.Logger
	spec       string
	limit      int
	staleAfter time.Duration
	now        func() time.Time
}

func NewScheduler(
	campaigns repository.CampaignRepository,
	starter ScheduledStarter,
	dispatcher Dispatcher,
	spec string,
	limit int,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = defaultSchedulerSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if staleAfter <= 0 {
		staleAfter = defaultSchedulerStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		campaigns:  campaigns,
		starter:    starter,
		dispatcher: dispatcher,
		logger:     logger,
		spec:       spec,
		limit:      limit,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

// Start blocks until ctx is canceled and the running tick, if any, returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.tick(ctx)

	cronLog := cronLogger{logger: s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to register scheduler job: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.recoverSending(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler recovery pass failed", zap.Error(err))
	}
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler scan failed", zap.Error(err))
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.campaigns.GetDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled campaigns: %w", err)
	}

	for i := range due {
		campaign := due[i]
		started, err := s.starter.StartScheduled(ctx, campaign.ID)
		if err != nil {
			s.logger.Error("failed to start scheduled campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}
		if !started {
			s.logger.Info("scheduled campaign already started elsewhere",
				zap.String("campaignId", campaign.ID),
			)
			continue
		}
		s.logger.Info("scheduled campaign started", zap.String("campaignId", campaign.ID))
	}

	return nil
}

func (s *Scheduler) recoverSending(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.staleAfter)

	after := ""
	for {
		page, err := s.campaigns.ListStale(ctx, domain.StatusSending, cutoff, after, s.limit)
		if err != nil {
			return fmt.Errorf("failed to fetch stale sending campaigns: %w", err)
		}

		for i := range page {
			campaign := page[i]
			if err := s.dispatcher.Dispatch(ctx, campaign.ID); err != nil {
				s.logger.Error("failed to re-dispatch sending campaign",
					zap.String("campaignId", campaign.ID),
					zap.Error(err),
				)
				continue
			}
			s.logger.Info("re-dispatched stale sending campaign",
				zap.String("campaignId", campaign.ID),
				zap.Time("lastProgressAt", campaign.UpdatedAt),
			)
		}

		if len(page) < s.limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		after = page[len(page)-1].ID
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
