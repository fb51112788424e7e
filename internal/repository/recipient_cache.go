package repository

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// CachedRecipientDirectory keeps recently resolved recipients in a bounded,
// expiring LRU. Only lookups by id are cached; audience queries always reach
// the underlying directory.
//
// Only ineligible recipients (opted out or inactive) are cached. A stale entry
// can therefore delay a re-opt-in by up to the TTL, but never keeps an
// opted-out recipient reachable.
type CachedRecipientDirectory struct {
	next  RecipientDirectory
	cache *expirable.LRU[string, domain.Recipient]
}

func NewCachedRecipientDirectory(next RecipientDirectory, size int, ttl time.Duration) *CachedRecipientDirectory {
	if size < 1 {
		size = 1
	}
	return &CachedRecipientDirectory{
		next:  next,
		cache: expirable.NewLRU[string, domain.Recipient](size, nil, ttl),
	}
}

func (d *CachedRecipientDirectory) FindByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	found := make(map[string]domain.Recipient, len(ids))
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if recipient, ok := d.cache.Get(id); ok {
			found[id] = recipient
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fetched, err := d.next.FindByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, recipient := range fetched {
			if !recipient.OptedIn || !recipient.IsActive {
				d.cache.Add(recipient.ID, recipient)
			}
			found[recipient.ID] = recipient
		}
	}

	recipients := make([]domain.Recipient, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, id := range ids {
		recipient, ok := found[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

func (d *CachedRecipientDirectory) FindActiveByTags(ctx context.Context, tags []string) ([]domain.Recipient, error) {
	return d.next.FindActiveByTags(ctx, tags)
}

func (d *CachedRecipientDirectory) FindActiveInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Recipient, error) {
	return d.next.FindActiveInactiveSince(ctx, cutoff)
}

func (d *CachedRecipientDirectory) FindAllActive(ctx context.Context) ([]domain.Recipient, error) {
	return d.next.FindAllActive(ctx)
}
