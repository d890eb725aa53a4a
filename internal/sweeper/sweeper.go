// Package sweeper runs the periodic housekeeping of the in-process stores:
// expired OAuth states, stale verdicts, idle rate-limit origins and a
// degraded health status that has had time to recover.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/statestore"
)

// Report counts what one pass removed
type Report struct {
	States    int
	Verdicts  int
	Origins   int
	Recovered bool
}

// Sweeper owns the scheduler and the stores it cleans
type Sweeper struct {
	states    statestore.Store
	cache     *discord.Cache
	limiter   *discord.Limiter
	health    *discord.Health
	interval  time.Duration
	now       func() time.Time
	scheduler *gocron.Scheduler

	mu      sync.Mutex
	running bool
}

// New creates a sweeper; any store may be nil
func New(states statestore.Store, cache *discord.Cache, limiter *discord.Limiter, health *discord.Health, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Sweeper{
		states:    states,
		cache:     cache,
		limiter:   limiter,
		health:    health,
		interval:  interval,
		now:       time.Now,
		scheduler: s,
	}
}

// WithClock replaces the clock passed to the stores
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start schedules a pass every interval. The first pass runs one interval in.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(func() {
		s.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.scheduler.StartAsync()
	s.running = true
	logger.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the scheduler, waiting for a running pass
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.scheduler.Clear()
	s.running = false
	logger.Info("sweeper stopped")
}

// Run performs one pass now
func (s *Sweeper) Run(ctx context.Context) Report {
	now := s.now()
	var r Report

	if s.states != nil {
		n, err := s.states.Sweep(ctx, now)
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.String("store", s.states.Name()), zap.String("stage", "sweep_states"))
		}
		r.States = n
	}
	if s.cache != nil {
		r.Verdicts = s.cache.Sweep(now)
	}
	if s.limiter != nil {
		r.Origins = s.limiter.Sweep(now)
	}
	if s.health != nil {
		r.Recovered = s.health.Recover(now)
	}

	if r.States+r.Verdicts+r.Origins > 0 || r.Recovered {
		logger.Debug("sweep completed",
			zap.Int("states", r.States),
			zap.Int("verdicts", r.Verdicts),
			zap.Int("origins", r.Origins),
			zap.Bool("health_recovered", r.Recovered))
	}
	return r
}
