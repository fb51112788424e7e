package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RecipientDirectory is the read-only query surface over recipients.
// Directory queries return recipients ordered by id.
type RecipientDirectory interface {
	FindByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error)
	FindActiveByTags(ctx context.Context, tags []string) ([]domain.Recipient, error)
	FindActiveInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Recipient, error)
	FindAllActive(ctx context.Context) ([]domain.Recipient, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return []domain.Recipient{}, nil
	}
	return r.find(r.db.WithContext(ctx).Where("id IN ?", ids))
}

func (r *GormRecipientRepo) FindActiveByTags(ctx context.Context, tags []string) ([]domain.Recipient, error) {
	return r.find(r.db.WithContext(ctx).
		Where("is_active = ? AND tags && ?", true, pq.StringArray(tags)))
}

func (r *GormRecipientRepo) FindActiveInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Recipient, error) {
	return r.find(r.db.WithContext(ctx).
		Where("is_active = ? AND last_interaction_at < ?", true, cutoff))
}

func (r *GormRecipientRepo) FindAllActive(ctx context.Context) ([]domain.Recipient, error) {
	return r.find(r.db.WithContext(ctx).Where("is_active = ?", true))
}

func (r *GormRecipientRepo) find(query *gorm.DB) ([]domain.Recipient, error) {
	var models []RecipientModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}
