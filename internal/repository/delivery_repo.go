package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository interface {
	Record(ctx context.Context, d *domain.Delivery) error
	ProcessedRecipientIDs(ctx context.Context, campaignID string) (map[string]struct{}, error)
	ListByCampaign(ctx context.Context, campaignID string, status *domain.DeliveryStatus) ([]domain.Delivery, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// Record stores the outcome for one recipient. A second outcome for the same
// campaign and recipient is ignored.
func (r *GormDeliveryRepo) Record(ctx context.Context, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	model := deliveryModelFromDomain(d)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		Create(model).Error
}

func (r *GormDeliveryRepo) ProcessedRecipientIDs(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("campaign_id = ?", campaignID).
		Pluck("recipient_id", &ids).Error
	if err != nil {
		return nil, err
	}

	processed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		processed[id] = struct{}{}
	}
	return processed, nil
}

func (r *GormDeliveryRepo) ListByCampaign(ctx context.Context, campaignID string, status *domain.DeliveryStatus) ([]domain.Delivery, error) {
	query := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var models []DeliveryModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}
