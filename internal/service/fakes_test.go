package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

// memoryCampaignStore is an in-memory CampaignRepository with the same
// compare-and-set transition rules as the Postgres implementation.
type memoryCampaignStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	snapshots []domain.CampaignStats

	getStatusFn func(id string) (domain.CampaignStatus, error)
	onSaveStats func(stats domain.CampaignStats)

	// now stamps UpdatedAt on every write.
	now func() time.Time
}

func newMemoryCampaignStore(campaigns ...*domain.Campaign) *memoryCampaignStore {
	store := &memoryCampaignStore{campaigns: map[string]*domain.Campaign{}, now: time.Now}
	for _, c := range campaigns {
		store.campaigns[c.ID] = cloneCampaign(c)
	}
	return store
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	clone := *c
	clone.ExecutionLogs = append([]domain.ExecutionLog(nil), c.ExecutionLogs...)
	return &clone
}

func (s *memoryCampaignStore) Create(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[c.ID]; exists {
		return domain.ErrConflict
	}
	s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *memoryCampaignStore) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *memoryCampaignStore) GetStatus(_ context.Context, id string) (domain.CampaignStatus, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(id)
	}
	return s.status(id)
}

func (s *memoryCampaignStore) status(id string) (domain.CampaignStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return c.Status, nil
}

func (s *memoryCampaignStore) List(_ context.Context, params repository.ListParams) ([]domain.Campaign, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if params.Status != nil && c.Status != *params.Status {
			continue
		}
		if params.Type != nil && c.Type != *params.Type {
			continue
		}
		out = append(out, *cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (s *memoryCampaignStore) ListStale(
	_ context.Context,
	status domain.CampaignStatus,
	updatedBefore time.Time,
	afterID string,
	limit int,
) ([]domain.Campaign, error) {
	all, _, _ := s.List(context.Background(), repository.ListParams{Status: &status})
	out := make([]domain.Campaign, 0, len(all))
	for _, c := range all {
		if c.ID <= afterID || c.UpdatedAt.After(updatedBefore) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryCampaignStore) GetDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Campaign, 0)
	for _, c := range s.campaigns {
		if c.Status == domain.StatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryCampaignStore) CountUpcomingScheduled(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, c := range s.campaigns {
		if c.Status == domain.StatusScheduled && c.ScheduledAt != nil && c.ScheduledAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *memoryCampaignStore) Transition(_ context.Context, id string, params repository.TransitionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}

	allowed := false
	for _, from := range params.From {
		if c.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: campaign %s is %s", domain.ErrInvalidTransition, id, c.Status)
	}

	c.Status = params.To
	if params.StartedAt != nil && c.StartedAt == nil {
		startedAt := *params.StartedAt
		c.StartedAt = &startedAt
	}
	if params.CompletedAt != nil {
		completedAt := *params.CompletedAt
		c.CompletedAt = &completedAt
	}
	if params.ScheduledAt != nil {
		scheduledAt := *params.ScheduledAt
		c.ScheduledAt = &scheduledAt
	}
	c.ExecutionLogs = append(c.ExecutionLogs, params.Log)
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memoryCampaignStore) SaveStats(_ context.Context, id string, stats domain.CampaignStats) error {
	s.mu.Lock()
	c, ok := s.campaigns[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	if c.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: campaign %s is final, stats are frozen", domain.ErrInvalidTransition, id)
	}
	c.Stats = stats
	c.UpdatedAt = s.now().UTC()
	s.snapshots = append(s.snapshots, stats)
	hook := s.onSaveStats
	s.mu.Unlock()

	if hook != nil {
		hook(stats)
	}
	return nil
}

func (s *memoryCampaignStore) GetGeneralStats(_ context.Context, _, _ *time.Time) ([]repository.StatusSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := map[domain.CampaignStatus]*repository.StatusSummary{}
	for _, c := range s.campaigns {
		summary, ok := byStatus[c.Status]
		if !ok {
			summary = &repository.StatusSummary{Status: c.Status}
			byStatus[c.Status] = summary
		}
		summary.Count++
		summary.TotalTargeted += int64(c.Stats.TotalTargeted)
		summary.Sent += int64(c.Stats.Sent)
		summary.Failed += int64(c.Stats.Failed)
	}
	out := make([]repository.StatusSummary, 0, len(byStatus))
	for _, summary := range byStatus {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (s *memoryCampaignStore) savedSnapshots() []domain.CampaignStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CampaignStats(nil), s.snapshots...)
}

func (s *memoryCampaignStore) forceStatus(id string, status domain.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

type memoryDeliveries struct {
	mu        sync.Mutex
	delivered map[string][]domain.Delivery
	recordErr error
}

func newMemoryDeliveries() *memoryDeliveries {
	return &memoryDeliveries{delivered: map[string][]domain.Delivery{}}
}

func (d *memoryDeliveries) Record(_ context.Context, delivery *domain.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recordErr != nil {
		return d.recordErr
	}
	for _, existing := range d.delivered[delivery.CampaignID] {
		if existing.RecipientID == delivery.RecipientID {
			return nil
		}
	}
	d.delivered[delivery.CampaignID] = append(d.delivered[delivery.CampaignID], *delivery)
	return nil
}

func (d *memoryDeliveries) ProcessedRecipientIDs(_ context.Context, campaignID string) (map[string]struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]struct{}{}
	for _, delivery := range d.delivered[campaignID] {
		out[delivery.RecipientID] = struct{}{}
	}
	return out, nil
}

func (d *memoryDeliveries) ListByCampaign(_ context.Context, campaignID string, status *domain.DeliveryStatus) ([]domain.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Delivery, 0)
	for _, delivery := range d.delivered[campaignID] {
		if status != nil && delivery.Status != *status {
			continue
		}
		out = append(out, delivery)
	}
	return out, nil
}

type fakeDirectory struct {
	recipients []domain.Recipient
	err        error
	calls      []string
}

func (f *fakeDirectory) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeDirectory) FindByIDs(_ context.Context, ids []string) ([]domain.Recipient, error) {
	if err := f.record("ids"); err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := make([]domain.Recipient, 0)
	for _, r := range f.sorted() {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDirectory) FindActiveByTags(_ context.Context, tags []string) ([]domain.Recipient, error) {
	if err := f.record("tags"); err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, tag := range tags {
		want[tag] = true
	}
	out := make([]domain.Recipient, 0)
	for _, r := range f.sorted() {
		if !r.IsActive {
			continue
		}
		for _, tag := range r.Tags {
			if want[tag] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDirectory) FindActiveInactiveSince(_ context.Context, cutoff time.Time) ([]domain.Recipient, error) {
	if err := f.record("inactive"); err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0)
	for _, r := range f.sorted() {
		if r.IsActive && r.LastInteractionAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDirectory) FindAllActive(context.Context) ([]domain.Recipient, error) {
	if err := f.record("all"); err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0)
	for _, r := range f.sorted() {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDirectory) sorted() []domain.Recipient {
	out := append([]domain.Recipient(nil), f.recipients...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeProvider struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.OutboundMessage) (*provider.ProviderResponse, error)
	sent   []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, msg provider.OutboundMessage) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg.RecipientID)
	f.mu.Unlock()
	if f.sendFn == nil {
		return &provider.ProviderResponse{StatusCode: 200, MessageID: "m-" + msg.RecipientID}, nil
	}
	return f.sendFn(ctx, msg)
}

func (f *fakeProvider) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeDispatcher struct {
	mu          sync.Mutex
	dispatched  []string
	interrupted []string
	dispatchErr error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakeDispatcher) Interrupt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, id)
	return nil
}

type fakeStarter struct {
	startFn func(ctx context.Context, id string) (bool, error)
}

func (f *fakeStarter) StartScheduled(ctx context.Context, id string) (bool, error) {
	return f.startFn(ctx, id)
}

func activeRecipients(ids ...string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Recipient{ID: id, OptedIn: true, IsActive: true})
	}
	return out
}

func sendingCampaign(id string, criteria domain.TargetCriteria, settings domain.CampaignSettings) *domain.Campaign {
	return &domain.Campaign{
		ID:             id,
		Name:           "Campaign " + id,
		Type:           domain.TypePromotion,
		Message:        "hello",
		CreatedBy:      "tester",
		Status:         domain.StatusSending,
		TargetCriteria: criteria,
		Settings:       settings,
	}
}

func noDelaySettings() domain.CampaignSettings {
	return domain.CampaignSettings{SendInterval: 0, MaxRetries: 3, PauseOnFailureRate: 0.1}
}
