package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status   *domain.CampaignStatus
	Type     *domain.CampaignType
	Page     int
	PageSize int
}

// TransitionParams describes a compare-and-set status change. The update only
// applies while the stored status is one of From.
type TransitionParams struct {
	From []domain.CampaignStatus
	To   domain.CampaignStatus
	Log  domain.ExecutionLog

	// StartedAt is written only when the column is still empty.
	StartedAt   *time.Time
	CompletedAt *time.Time
	ScheduledAt *time.Time
}

type StatusSummary struct {
	Status        domain.CampaignStatus `gorm:"column:status"`
	Count         int64                 `gorm:"column:count"`
	TotalTargeted int64                 `gorm:"column:total_targeted"`
	Sent          int64                 `gorm:"column:sent"`
	Failed        int64                 `gorm:"column:failed"`
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error)
	List(ctx context.Context, params ListParams) ([]domain.Campaign, int64, error)
	ListStale(ctx context.Context, status domain.CampaignStatus, updatedBefore time.Time, afterID string, limit int) ([]domain.Campaign, error)
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	CountUpcomingScheduled(ctx context.Context, now time.Time) (int64, error)
	Transition(ctx context.Context, id string, params TransitionParams) error
	SaveStats(ctx context.Context, id string, stats domain.CampaignStats) error
	GetGeneralStats(ctx context.Context, from, to *time.Time) ([]StatusSummary, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c == nil {
		return fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	model := campaignModelFromDomain(c)
	logs := make([]ExecutionLogModel, 0, len(c.ExecutionLogs))
	for _, entry := range c.ExecutionLogs {
		logModel, err := executionLogModelFromDomain(uuid.NewString(), c.ID, entry)
		if err != nil {
			return fmt.Errorf("failed to encode execution log: %w", err)
		}
		logs = append(logs, *logModel)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		return tx.Create(&logs).Error
	})
	if err != nil {
		return err
	}

	c.CreatedAt = model.CreatedAt
	c.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var logModels []ExecutionLogModel
	err = r.db.WithContext(ctx).
		Where("campaign_id = ?", id).
		Order("timestamp ASC").
		Find(&logModels).Error
	if err != nil {
		return nil, err
	}

	campaign := campaignModelToDomain(&model)
	campaign.ExecutionLogs = make([]domain.ExecutionLog, 0, len(logModels))
	for i := range logModels {
		campaign.ExecutionLogs = append(campaign.ExecutionLogs, executionLogModelToDomain(&logModels[i]))
	}
	return campaign, nil
}

func (r *GormCampaignRepo) GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).
		Select("status").
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Status, nil
}

func (r *GormCampaignRepo) List(ctx context.Context, params ListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return campaignsFromModels(models), total, nil
}

// ListStale pages through campaigns in status whose row has not changed
// since updatedBefore. Pages are keyed by id; pass the last id of the
// previous page as afterID.
func (r *GormCampaignRepo) ListStale(
	ctx context.Context,
	status domain.CampaignStatus,
	updatedBefore time.Time,
	afterID string,
	limit int,
) ([]domain.Campaign, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", status, updatedBefore)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}

	var models []CampaignModel
	if err := query.Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return campaignsFromModels(models), nil
}

func (r *GormCampaignRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", domain.StatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignsFromModels(models), nil
}

func (r *GormCampaignRepo) CountUpcomingScheduled(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("status = ? AND scheduled_at > ?", domain.StatusScheduled, now).
		Count(&count).Error
	return count, err
}

func (r *GormCampaignRepo) Transition(ctx context.Context, id string, params TransitionParams) error {
	if len(params.From) == 0 {
		return fmt.Errorf("%w: transition requires source statuses", domain.ErrValidation)
	}

	logModel, err := executionLogModelFromDomain(uuid.NewString(), id, params.Log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}

	updates := map[string]any{
		"status":     params.To,
		"updated_at": time.Now().UTC(),
	}
	if params.StartedAt != nil {
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", *params.StartedAt)
	}
	if params.CompletedAt != nil {
		updates["completed_at"] = *params.CompletedAt
	}
	if params.ScheduledAt != nil {
		updates["scheduled_at"] = *params.ScheduledAt
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CampaignModel{}).
			Where("id = ? AND status IN ?", id, params.From).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&CampaignModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: campaign %s is not in %v", domain.ErrInvalidTransition, id, params.From)
		}
		return tx.Create(logModel).Error
	})
}

// SaveStats overwrites the counters of a campaign that is not yet terminal.
// A terminal campaign yields ErrInvalidTransition and is left untouched.
func (r *GormCampaignRepo) SaveStats(ctx context.Context, id string, stats domain.CampaignStats) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status IN ?", id, domain.NonTerminalStatuses()).
		Updates(map[string]any{
			"stats_total_targeted": stats.TotalTargeted,
			"stats_sent":           stats.Sent,
			"stats_failed":         stats.Failed,
			"stats_delivered":      stats.Delivered,
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&CampaignModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: campaign %s is final, stats are frozen", domain.ErrInvalidTransition, id)
}

func (r *GormCampaignRepo) GetGeneralStats(ctx context.Context, from, to *time.Time) ([]StatusSummary, error) {
	query := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Select(`status, COUNT(*) AS count,
			COALESCE(SUM(stats_total_targeted), 0) AS total_targeted,
			COALESCE(SUM(stats_sent), 0) AS sent,
			COALESCE(SUM(stats_failed), 0) AS failed`)

	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var summaries []StatusSummary
	if err := query.Group("status").Order("status").Scan(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}

func campaignsFromModels(models []CampaignModel) []domain.Campaign {
	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns
}
