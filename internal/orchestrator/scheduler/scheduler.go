// Package scheduler drives the task pipeline: it claims ready tasks on a
// periodic tick, hands them to the single worker, and pauses the whole
// pipeline when the agent reports an upstream usage limit.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/orchestrator/worker"
	"github.com/ccsched/ccsched/internal/task/models"
	"github.com/ccsched/ccsched/internal/task/repository"
)

// Config holds the scheduler knobs.
type Config struct {
	// TickInterval bounds scheduling latency and resume granularity.
	TickInterval time.Duration
	// QueueSize is the handoff channel capacity to the worker.
	QueueSize int
	// RateLimitBuffer is the capacity of the worker-to-scheduler rate limit
	// channel. Signals beyond it are dropped.
	RateLimitBuffer int
	// MaxVerifications is forwarded to the worker.
	MaxVerifications int
	// LogDir is forwarded to the worker for per-task transcripts.
	LogDir string
}

// DefaultConfig returns the standard knobs.
func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Second,
		QueueSize:        100,
		RateLimitBuffer:  10,
		MaxVerifications: 3,
	}
}

// Scheduler owns the tick loop, the pause cell, and both channels. It is
// constructed once at startup and lives for the process lifetime.
type Scheduler struct {
	store  *repository.Store
	cfg    Config
	logger *logger.Logger

	pause     *worker.PauseState
	tasks     chan *models.Task
	rateLimit chan time.Time
	worker    *worker.Worker

	// pausedUntil is the scheduler's local copy of the pause instant. Only
	// the tick loop touches it.
	pausedUntil *time.Time
}

// New wires the scheduler, its channels, and the worker together.
func New(store *repository.Store, runner worker.Runner, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RateLimitBuffer <= 0 {
		cfg.RateLimitBuffer = 10
	}

	s := &Scheduler{
		store:     store,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "scheduler")),
		pause:     worker.NewPauseState(),
		tasks:     make(chan *models.Task, cfg.QueueSize),
		rateLimit: make(chan time.Time, cfg.RateLimitBuffer),
	}
	s.worker = worker.New(store, runner, s.pause, s.tasks, s.rateLimit, worker.Config{
		MaxVerifications: cfg.MaxVerifications,
		LogDir:           cfg.LogDir,
	}, log)
	return s
}

// Run recovers orphaned tasks, starts the worker, and loops until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ids, err := s.store.CleanupOrphanedRunning(ctx)
	if err != nil {
		s.logger.Error("orphan cleanup failed", zap.Error(err))
	} else if len(ids) > 0 {
		s.logger.Info("recovered orphaned running tasks", zap.Int64s("task_ids", ids))
	}

	go s.worker.Run(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("tick", s.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case instant := <-s.rateLimit:
			s.applyRateLimit(ctx, instant)
		}
	}
}

// tick advances the pause state and, when unpaused, claims at most one task.
// A tick that lifts a pause requeues waiting tasks and then claims in the
// same tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	if s.pausedUntil != nil {
		if now.Before(*s.pausedUntil) {
			return
		}
		s.logger.Info("pause expired, resuming", zap.Time("paused_until", *s.pausedUntil))
		s.pausedUntil = nil
		s.pause.Set(nil)
		s.resumeWaitingTasks(ctx)
	}
	s.scheduleReadyTasks(ctx)
}

// scheduleReadyTasks claims the next ready task and hands it to the worker.
// If the handoff channel cannot take it, the claim is undone so the task is
// not lost in limbo.
func (s *Scheduler) scheduleReadyTasks(ctx context.Context) {
	task, err := s.store.ClaimNextReady(ctx)
	if err != nil {
		s.logger.Error("claim failed", zap.Error(err))
		return
	}
	if task == nil {
		return
	}

	select {
	case s.tasks <- task:
		s.logger.Info("task dispatched", zap.Int64("task_id", task.ID))
	default:
		s.logger.Warn("handoff queue full, reverting claim", zap.Int64("task_id", task.ID))
		if err := s.store.UpdateStatus(ctx, task.ID, models.StatusPending, nil, nil); err != nil {
			s.logger.Error("failed to revert claimed task",
				zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
}

// applyRateLimit pauses the pipeline until the reset instant and parks every
// running task as Waiting so nothing slips through before the pause lands.
func (s *Scheduler) applyRateLimit(ctx context.Context, until time.Time) {
	s.logger.Warn("rate limited, pausing pipeline", zap.Time("until", until))
	s.pausedUntil = &until
	s.pause.Set(&until)
	s.convertRunningToWaiting(ctx, until)
}

func (s *Scheduler) convertRunningToWaiting(ctx context.Context, resumeAt time.Time) {
	running, err := s.store.TasksByStatus(ctx, models.StatusRunning)
	if err != nil {
		s.logger.Error("failed to list running tasks", zap.Error(err))
		return
	}
	for _, task := range running {
		if err := s.store.UpdateStatusWithResumeAt(ctx, task.ID, models.StatusWaiting, nil, nil, &resumeAt); err != nil {
			s.logger.Error("failed to park running task",
				zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
}

// resumeWaitingTasks promotes every due Waiting task back to Pending,
// clearing its resume instant. Session ids survive so the next run resumes
// the conversation.
func (s *Scheduler) resumeWaitingTasks(ctx context.Context) {
	ready, err := s.store.WaitingReadyToResume(ctx)
	if err != nil {
		s.logger.Error("failed to list waiting tasks", zap.Error(err))
		return
	}
	for _, task := range ready {
		if err := s.store.UpdateStatusWithResumeAt(ctx, task.ID, models.StatusPending, nil, nil, nil); err != nil {
			s.logger.Error("failed to resume waiting task",
				zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		s.logger.Info("waiting task resumed", zap.Int64("task_id", task.ID))
	}
}
