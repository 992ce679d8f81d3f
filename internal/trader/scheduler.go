package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
	"github.com/teusbenschop/cryptobot/internal/worker"
)

// SchedulerConfig holds the scheduling parameters.
type SchedulerConfig struct {
	// Interval is the delay between passes.
	Interval time.Duration
	// MaxConcurrent caps the number of paths executing at once.
	MaxConcurrent int
	// LockTTL bounds how long another engine instance has to wait for a
	// record whose holder died.
	LockTTL time.Duration
}

// Scheduler repeatedly scans the store and hands runnable records to the
// machine, oldest first, never more than MaxConcurrent at a time. A record
// is runnable when it is not terminal, not already executing, shares no
// triple with an executing record, and is not locked by another instance.
type Scheduler struct {
	store   domain.PathStore
	locks   domain.LockManager
	guard   *Guard
	machine *Machine
	pool    *worker.Pool
	cfg     SchedulerConfig
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(store domain.PathStore, locks domain.LockManager, machine *Machine, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		store:   store,
		locks:   locks,
		guard:   NewGuard(),
		machine: machine,
		pool:    worker.New(cfg.MaxConcurrent),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Run executes scheduler passes until the context is cancelled, then waits
// for in-flight paths to park or finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduler pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.pool.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single scheduling pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	paths, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	for i := range paths {
		p := paths[i]
		if p.Status.Terminal() || p.Executing {
			continue
		}
		if s.guard.Clashes(&p) {
			continue
		}
		if s.pool.InFlight() >= s.cfg.MaxConcurrent {
			break
		}
		s.dispatch(ctx, p)
	}
	return nil
}

// dispatch claims a record across instances and processes, then hands it to
// the machine on a pool goroutine. Claims are layered: the distributed lock
// fences other engine instances, the executing column fences crashed-claim
// leftovers, and the guard fences triple clashes in this process.
func (s *Scheduler) dispatch(ctx context.Context, p domain.PathRecord) {
	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("path:%d", p.ID), s.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			s.logger.Warn("lock acquire failed", slog.Int64("path", p.ID), slog.String("error", err.Error()))
		}
		return
	}

	claimed, err := s.store.Claim(ctx, p.ID)
	if err != nil || !claimed {
		unlock()
		return
	}

	if !s.guard.Acquire(&p) {
		s.release(ctx, p.ID, unlock)
		return
	}

	submitted := s.pool.TrySubmit(func() {
		defer s.release(context.Background(), p.ID, unlock)
		defer s.guard.Release(&p)

		if err := s.machine.Execute(ctx, p.ID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("path execution failed",
				slog.Int64("path", p.ID),
				slog.String("error", err.Error()))
		}
	})
	if !submitted {
		s.guard.Release(&p)
		s.release(ctx, p.ID, unlock)
	}
}

// release clears the executing flag and the distributed lock.
func (s *Scheduler) release(ctx context.Context, id int64, unlock func()) {
	if err := s.store.Release(ctx, id); err != nil {
		s.logger.Warn("release failed", slog.Int64("path", id), slog.String("error", err.Error()))
	}
	unlock()
}
