package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

// Resolver turns a campaign's targeting criteria into its audience.
type Resolver interface {
	Resolve(ctx context.Context, criteria domain.TargetCriteria) ([]domain.Recipient, error)
}

// AudienceResolver applies the first matching targeting branch in the order
// specific recipients, tags, inactivity, all active. The result is ordered
// and duplicate-free.
type AudienceResolver struct {
	directory repository.RecipientDirectory
	now       func() time.Time
}

func NewAudienceResolver(directory repository.RecipientDirectory) *AudienceResolver {
	return &AudienceResolver{
		directory: directory,
		now:       time.Now,
	}
}

func (r *AudienceResolver) Resolve(ctx context.Context, criteria domain.TargetCriteria) ([]domain.Recipient, error) {
	recipients, err := r.resolveBranch(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}

	audience := make([]domain.Recipient, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, recipient := range recipients {
		if criteria.RequiresOptIn && !recipient.OptedIn {
			continue
		}
		if _, dup := seen[recipient.ID]; dup {
			continue
		}
		seen[recipient.ID] = struct{}{}
		audience = append(audience, recipient)
	}
	return audience, nil
}

func (r *AudienceResolver) resolveBranch(ctx context.Context, criteria domain.TargetCriteria) ([]domain.Recipient, error) {
	switch {
	case len(criteria.SpecificRecipients) > 0:
		return r.specific(ctx, criteria.SpecificRecipients)
	case len(criteria.Tags) > 0:
		return r.directory.FindActiveByTags(ctx, normalizeTags(criteria.Tags))
	case criteria.InactiveDays != nil:
		days := *criteria.InactiveDays
		if days < 1 {
			return nil, fmt.Errorf("%w: inactiveDays must be >= 1", domain.ErrValidation)
		}
		cutoff := r.now().UTC().AddDate(0, 0, -days)
		return r.directory.FindActiveInactiveSince(ctx, cutoff)
	case criteria.AllActive:
		return r.directory.FindAllActive(ctx)
	default:
		return []domain.Recipient{}, nil
	}
}

// specific keeps the caller's order. Unknown ids are dropped.
func (r *AudienceResolver) specific(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	found, err := r.directory.FindByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Recipient, len(found))
	for _, recipient := range found {
		byID[recipient.ID] = recipient
	}

	ordered := make([]domain.Recipient, 0, len(found))
	for _, id := range unique {
		if recipient, ok := byID[id]; ok {
			ordered = append(ordered, recipient)
		}
	}
	return ordered, nil
}

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			normalized = append(normalized, tag)
		}
	}
	return normalized
}
