package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// SchedulerConfig configures the run loop.
type SchedulerConfig struct {
	Tick time.Duration // How often to run an evaluation pass (default: 1m)

	// Retention prunes history rows older than this once per PruneEvery.
	// Zero (the default) keeps history until its alert is deleted.
	Retention  time.Duration
	PruneEvery time.Duration // default: 24h
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:       time.Minute,
		PruneEvery: 24 * time.Hour,
	}
}

// Runner performs one evaluation pass.
type Runner interface {
	Run(ctx context.Context, now time.Time) (*RunReport, error)
}

// Scheduler drives an engine on a fixed tick and prunes old history.
type Scheduler struct {
	config  SchedulerConfig
	runner  Runner
	history storage.AlertHistoryRepository
	logger  zerolog.Logger
	now     func() time.Time

	lastRun    atomic.Int64
	lastReport atomic.Pointer[RunReport]
	lastPrune  time.Time

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. history may be nil to disable pruning.
func NewScheduler(runner Runner, history storage.AlertHistoryRepository, config SchedulerConfig, logger zerolog.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Tick <= 0 {
		config.Tick = def.Tick
	}
	if config.PruneEvery <= 0 {
		config.PruneEvery = def.PruneEvery
	}
	return &Scheduler{
		config:  config,
		runner:  runner,
		history: history,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
	}
}

// LastRun returns when the last pass completed, or the zero time.
func (s *Scheduler) LastRun() time.Time {
	ns := s.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastReport returns the report of the last successful pass, or nil.
func (s *Scheduler) LastReport() *RunReport {
	return s.lastReport.Load()
}

// Run evaluates immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	report, err := s.runner.Run(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("evaluation pass failed")
		}
	} else {
		s.lastReport.Store(report)
		s.logger.Info().
			Int("evaluated", report.Evaluated).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Dur("took", s.now().Sub(now)).
			Msg("evaluation pass complete")
	}
	s.lastRun.Store(s.now().UnixNano())

	s.prune(ctx, now)
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if s.history == nil || s.config.Retention <= 0 {
		return
	}
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.config.PruneEvery {
		return
	}
	s.lastPrune = now

	deleted, err := s.history.DeleteBefore(ctx, now.Add(-s.config.Retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("prune alert history")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("pruned alert history")
	}
}
