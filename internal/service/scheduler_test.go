package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

func TestNewSchedulerAppliesDefaults(t *testing.T) {
	t.Parallel()

	scheduler, err := NewScheduler(newMemoryCampaignStore(), &fakeStarter{}, &fakeDispatcher{}, "", 0, 0, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if scheduler.spec != defaultSchedulerSpec {
		t.Fatalf("spec = %s, want %s", scheduler.spec, defaultSchedulerSpec)
	}
	if scheduler.limit != defaultSchedulerScanLimit {
		t.Fatalf("limit = %d, want %d", scheduler.limit, defaultSchedulerScanLimit)
	}
	if scheduler.staleAfter != defaultSchedulerStaleAfter {
		t.Fatalf("staleAfter = %v, want %v", scheduler.staleAfter, defaultSchedulerStaleAfter)
	}
}

func TestNewSchedulerRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(newMemoryCampaignStore(), &fakeStarter{}, &fakeDispatcher{}, "every minute", 10, 0, nil); err == nil {
		t.Fatal("NewScheduler() expected error for invalid spec")
	}
}

func TestSchedulerScanDueStartsDueCampaigns(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	older := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	store := newMemoryCampaignStore(
		&domain.Campaign{ID: "due-1", Status: domain.StatusScheduled, ScheduledAt: &past},
		&domain.Campaign{ID: "due-0", Status: domain.StatusScheduled, ScheduledAt: &older},
		&domain.Campaign{ID: "later", Status: domain.StatusScheduled, ScheduledAt: &future},
		&domain.Campaign{ID: "draft", Status: domain.StatusDraft},
	)

	started := make([]string, 0, 2)
	starter := &fakeStarter{
		startFn: func(ctx context.Context, id string) (bool, error) {
			started = append(started, id)
			return true, nil
		},
	}

	scheduler, err := NewScheduler(store, starter, &fakeDispatcher{}, "@every 1m", 100, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return now }

	if err := scheduler.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(started) != 2 {
		t.Fatalf("started = %v, want 2 campaigns", started)
	}
	if started[0] != "due-0" || started[1] != "due-1" {
		t.Fatalf("started = %v, want oldest first", started)
	}
}

func TestSchedulerScanDueContinuesAfterStartFailure(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemoryCampaignStore(
		&domain.Campaign{ID: "a", Status: domain.StatusScheduled, ScheduledAt: &past},
		&domain.Campaign{ID: "b", Status: domain.StatusScheduled, ScheduledAt: &past},
		&domain.Campaign{ID: "c", Status: domain.StatusScheduled, ScheduledAt: &past},
	)

	calls := 0
	starter := &fakeStarter{
		startFn: func(ctx context.Context, id string) (bool, error) {
			calls++
			switch id {
			case "a":
				return false, errors.New("db down")
			case "b":
				return false, nil
			}
			return true, nil
		},
	}

	scheduler, err := NewScheduler(store, starter, &fakeDispatcher{}, "", 0, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	if err := scheduler.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("StartScheduled calls = %d, want 3", calls)
	}
}

func TestSchedulerRecoverSendingDispatchesOrphans(t *testing.T) {
	t.Parallel()

	store := newMemoryCampaignStore(
		&domain.Campaign{ID: "s-1", Status: domain.StatusSending},
		&domain.Campaign{ID: "s-2", Status: domain.StatusSending},
		&domain.Campaign{ID: "p-1", Status: domain.StatusPaused},
	)
	dispatcher := &fakeDispatcher{}

	scheduler, err := NewScheduler(store, &fakeStarter{}, dispatcher, "", 0, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	if err := scheduler.recoverSending(context.Background()); err != nil {
		t.Fatalf("recoverSending() error = %v", err)
	}
	if len(dispatcher.dispatched) != 2 {
		t.Fatalf("dispatched = %v, want s-1 and s-2", dispatcher.dispatched)
	}
	if dispatcher.dispatched[0] != "s-1" || dispatcher.dispatched[1] != "s-2" {
		t.Fatalf("dispatched = %v, want [s-1 s-2]", dispatcher.dispatched)
	}
}

func TestSchedulerStartRunsInitialPassAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	store := newMemoryCampaignStore(
		&domain.Campaign{ID: "due", Status: domain.StatusScheduled, ScheduledAt: &past},
		&domain.Campaign{ID: "orphan", Status: domain.StatusSending},
	)

	var mu sync.Mutex
	started := make([]string, 0, 1)
	firstStart := make(chan struct{})
	starter := &fakeStarter{
		startFn: func(ctx context.Context, id string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(started) == 0 {
				close(firstStart)
			}
			started = append(started, id)
			return true, nil
		},
	}
	dispatcher := &fakeDispatcher{}

	scheduler, err := NewScheduler(store, starter, dispatcher, "@every 1h", 10, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Start(ctx)
	}()

	select {
	case <-firstStart:
	case <-time.After(2 * time.Second):
		t.Fatal("initial scan did not start the due campaign")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "orphan" {
		t.Fatalf("dispatched = %v, want [orphan]", dispatcher.dispatched)
	}
}

func TestSchedulerTickRedispatchesCampaignAfterFailedDispatch(t *testing.T) {
	t.Parallel()

	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryCampaignStore(&domain.Campaign{
		ID:        "c-1",
		Name:      "Spring sale",
		Type:      domain.TypePromotion,
		Message:   "hello",
		CreatedBy: "tester",
		Status:    domain.StatusDraft,
		Settings:  domain.DefaultSettings(),
	})
	store.now = func() time.Time { return startedAt }

	dispatcher := &fakeDispatcher{dispatchErr: errors.New("queue full")}
	campaigns, err := NewCampaignService(store, dispatcher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	if _, err := campaigns.Execute(context.Background(), "c-1"); err == nil {
		t.Fatal("Execute() expected dispatch error")
	}
	dispatcher.mu.Lock()
	dispatcher.dispatchErr = nil
	dispatcher.mu.Unlock()

	// A repeated execute is a no-op on a sending campaign.
	if _, err := campaigns.Execute(context.Background(), "c-1"); err != nil {
		t.Fatalf("Execute() retry error = %v", err)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("dispatched = %v, want none before recovery", dispatcher.dispatched)
	}

	scheduler, err := NewScheduler(store, campaigns, dispatcher, "", 10, 5*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	scheduler.now = func() time.Time { return startedAt.Add(time.Minute) }
	scheduler.tick(context.Background())
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("dispatched = %v, want none while the campaign looks live", dispatcher.dispatched)
	}

	scheduler.now = func() time.Time { return startedAt.Add(6 * time.Minute) }
	scheduler.tick(context.Background())
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "c-1" {
		t.Fatalf("dispatched = %v, want [c-1]", dispatcher.dispatched)
	}
}

func TestSchedulerRecoverSendingPagesPastLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	fresh := now.Add(-time.Second)

	store := newMemoryCampaignStore(
		&domain.Campaign{ID: "s-1", Status: domain.StatusSending, UpdatedAt: stale},
		&domain.Campaign{ID: "s-2", Status: domain.StatusSending, UpdatedAt: stale},
		&domain.Campaign{ID: "s-3", Status: domain.StatusSending, UpdatedAt: stale},
		&domain.Campaign{ID: "s-4", Status: domain.StatusSending, UpdatedAt: fresh},
		&domain.Campaign{ID: "s-5", Status: domain.StatusSending, UpdatedAt: stale},
		&domain.Campaign{ID: "s-6", Status: domain.StatusSending, UpdatedAt: stale},
	)
	dispatcher := &fakeDispatcher{}

	scheduler, err := NewScheduler(store, &fakeStarter{}, dispatcher, "", 2, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return now }

	if err := scheduler.recoverSending(context.Background()); err != nil {
		t.Fatalf("recoverSending() error = %v", err)
	}

	want := []string{"s-1", "s-2", "s-3", "s-5", "s-6"}
	if !equalIDs(dispatcher.dispatched, want) {
		t.Fatalf("dispatched = %v, want %v", dispatcher.dispatched, want)
	}
}
