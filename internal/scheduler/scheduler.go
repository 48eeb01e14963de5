package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadflow/engine/internal/engine"
	"github.com/leadflow/engine/internal/store"
	"github.com/leadflow/engine/internal/trigger"
	"github.com/leadflow/engine/pkg/schema"
)

// DefaultSweepInterval is how often the sweeper wakes suspended runs and
// fires time-based triggers. Cron schedules have minute resolution, so
// sweeping faster buys nothing.
const DefaultSweepInterval = 60 * time.Second

// DefaultClaimLimit bounds how many due runs one sweep resumes.
const DefaultClaimLimit = 100

// Runner is the engine surface the sweeper drives. Satisfied by
// *engine.Engine and test mocks.
type Runner interface {
	Start(ctx context.Context, wf *schema.Workflow, entryNodeID, leadID string, opts engine.StartOptions) (*schema.Run, error)
	Resume(ctx context.Context, runID string) (*schema.Run, error)
}

// EventMatcher maps events to workflow entry points. Satisfied by
// *trigger.Matcher.
type EventMatcher interface {
	Match(ctx context.Context, ev trigger.Event) ([]trigger.Match, error)
}

// Sweeper is the periodic loop that resumes due suspended runs and starts
// runs for time_reached triggers. Claiming happens in the store, so
// concurrent sweepers never resume the same run twice.
type Sweeper struct {
	store    store.Store
	runner   Runner
	matcher  EventMatcher
	logger   *slog.Logger
	interval time.Duration
	limit    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // run IDs currently resuming (dedup)
}

// SweeperConfig holds sweeper tunables. Zero values pick the defaults.
type SweeperConfig struct {
	Interval   time.Duration
	ClaimLimit int
}

// NewSweeper creates a Sweeper. The matcher may be nil, which disables the
// time trigger sweep.
func NewSweeper(s store.Store, runner Runner, matcher EventMatcher, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = DefaultClaimLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    s,
		runner:   runner,
		matcher:  matcher,
		logger:   logger,
		interval: cfg.Interval,
		limit:    cfg.ClaimLimit,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.Tick(ctx, t.UTC())
		}
	}
}

// Tick runs one sweep: resume due suspended runs, then fire time triggers.
// Exported so tests and operators can drive the sweep without the loop.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) {
	s.resumeDue(ctx, now)
	s.fireTimeTriggers(ctx, now)
}

func (s *Sweeper) resumeDue(ctx context.Context, now time.Time) {
	claimed, err := s.store.ClaimDueRuns(ctx, now, s.limit)
	if err != nil {
		s.logger.Error("claim due runs failed", slog.String("error", err.Error()))
		return
	}
	for _, run := range claimed {
		if !s.tryAcquire(run.ID) {
			continue
		}
		if _, err := s.runner.Resume(ctx, run.ID); err != nil {
			s.logger.Error("resume run failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		}
		s.release(run.ID)
	}
	if len(claimed) > 0 {
		s.logger.Info("resumed due runs", slog.Int("count", len(claimed)))
	}
}

// fireTimeTriggers hands a time_reached event to the matcher and starts a
// run for every workflow whose cron schedule covers this minute.
func (s *Sweeper) fireTimeTriggers(ctx context.Context, now time.Time) {
	if s.matcher == nil {
		return
	}
	matches, err := s.matcher.Match(ctx, trigger.Event{
		Kind: trigger.EventTimeReached,
		Now:  now,
	})
	if err != nil {
		s.logger.Error("time trigger match failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range matches {
		if _, err := s.runner.Start(ctx, m.Workflow, m.EntryNode.ID, m.LeadID, engine.StartOptions{}); err != nil {
			s.logger.Error("start time-triggered run failed",
				slog.String("workflow_id", m.Workflow.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Sweeper) tryAcquire(runID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[runID]; ok {
		return false
	}
	s.inflight[runID] = struct{}{}
	return true
}

func (s *Sweeper) release(runID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, runID)
}
