package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkers       = 1
	defaultQueueSize = 256
)

var ErrQueueFull = errors.New("runner queue is full")

// Executor runs one campaign until it finishes or ctx is canceled.
type Executor interface {
	Run(ctx context.Context, campaignID string) error
}

type job struct {
	campaignID    string
	correlationID string
}

type activeRun struct {
	cancel context.CancelFunc
	rerun  bool
}

// Runner executes campaign runs on a fixed pool of workers. A campaign is
// never run by two workers at once: dispatching a campaign that is already
// running schedules one more pass after the current run returns.
type Runner struct {
	executor Executor
	workers  int
	queue    chan job
	logger   *zap.Logger

	mu     sync.Mutex
	queued map[string]struct{}
	active map[string]*activeRun
}

func New(executor Executor, workers, queueSize int, logger *zap.Logger) (*Runner, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if workers < minWorkers {
		workers = minWorkers
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		executor: executor,
		workers:  workers,
		queue:    make(chan job, queueSize),
		logger:   logger,
		queued:   make(map[string]struct{}),
		active:   make(map[string]*activeRun),
	}, nil
}

// Dispatch enqueues a run for campaignID. It never blocks.
func (r *Runner) Dispatch(ctx context.Context, campaignID string) error {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.active[campaignID]; ok {
		run.rerun = true
		return nil
	}
	if _, ok := r.queued[campaignID]; ok {
		return nil
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	select {
	case r.queue <- job{campaignID: campaignID, correlationID: correlationID}:
		r.queued[campaignID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Interrupt cancels the active run of campaignID, if any. The executor
// stops at its next recipient boundary.
func (r *Runner) Interrupt(_ context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.active[campaignID]; ok {
		run.rerun = false
		run.cancel()
	}
	return nil
}

// HandleCommand applies a command received from the broker. A full queue
// fails the command so the broker redelivers it.
func (r *Runner) HandleCommand(ctx context.Context, msg queue.CommandMessage) error {
	switch msg.Action {
	case queue.ActionInterrupt:
		return r.Interrupt(ctx, msg.CampaignID)
	case queue.ActionRun:
		return r.Dispatch(ctx, msg.CampaignID)
	default:
		return fmt.Errorf("unsupported command action %q", msg.Action)
	}
}

// Start runs the workers until ctx is canceled and every in-flight run has
// returned.
func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			r.logger.Info("runner worker started", zap.Int("workerId", workerID))
			r.work(groupCtx)
			r.logger.Info("runner worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.run(ctx, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		if j.correlationID != "" {
			runCtx = observability.WithCorrelationID(runCtx, j.correlationID)
		}

		r.mu.Lock()
		delete(r.queued, j.campaignID)
		run := &activeRun{cancel: cancel}
		r.active[j.campaignID] = run
		r.mu.Unlock()

		logger := observability.CampaignLogger(r.logger, runCtx, j.campaignID)
		logger.Debug("campaign run picked up")
		if err := r.executor.Run(runCtx, j.campaignID); err != nil {
			logger.Error("campaign run failed", zap.Error(err))
		}

		r.mu.Lock()
		rerun := run.rerun
		delete(r.active, j.campaignID)
		r.mu.Unlock()
		cancel()

		if !rerun || ctx.Err() != nil {
			return
		}
		logger.Debug("campaign dispatched during run, running again")
	}
}
