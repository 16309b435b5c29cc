// Package worker executes claimed tasks one at a time through the agent
// subprocess, running the execute-then-verify protocol.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/task/models"
	"github.com/ccsched/ccsched/pkg/claudecode"
)

// Sentinels the verification prompt asks the agent to reply with.
const (
	SuccessSentinel = "CLAUDE_CODE_SCHEDULER_SUCCESS"
	FailureSentinel = "CLAUDE_CODE_SCHEDULER_FAILED"
)

// verificationInstruction is appended to the task prompt for every
// verification pass. The wording is kept byte-for-byte compatible with agent
// sessions started by earlier deployments.
const verificationInstruction = "如果你确认任务成功，能够正确完成用户的每一个需求，则回复 CLAUDE_CODE_SCHEDULER_SUCCESS；如果其中有的需求没有完成，再继续进行任务；如果你确认因为某些原因，在没有用户干预的情况下无法完成任务，则回复 CLAUDE_CODE_SCHEDULER_FAILED"

// Failure modes surfaced from a single task execution.
var (
	ErrNoSession             = errors.New("agent produced no session id")
	ErrAgentExecution        = errors.New("agent run did not succeed")
	ErrTaskReportedFailure   = errors.New("agent reported the task cannot be completed")
	ErrVerificationExhausted = errors.New("verification attempts exhausted without a sentinel")
)

// Store is the slice of the task store the worker writes through.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, status models.TaskStatus, sessionID *string, finishedAt *time.Time) error
	UpdateStatusWithResumeAt(ctx context.Context, id int64, status models.TaskStatus, sessionID *string, finishedAt, resumeAt *time.Time) error
	UpdateOutputAndResult(ctx context.Context, id int64, output, result *string) error
}

// Runner runs one agent invocation to completion.
type Runner interface {
	Run(ctx context.Context, req claudecode.RunRequest) (*claudecode.RunResult, error)
}

// Config holds the worker knobs.
type Config struct {
	// MaxVerifications bounds the verify loop per task.
	MaxVerifications int

	// LogDir is where per-task transcript logs are written. Empty means the
	// process working directory.
	LogDir string
}

// Worker consumes tasks from the scheduler's handoff channel.
type Worker struct {
	store     Store
	runner    Runner
	pause     *PauseState
	tasks     <-chan *models.Task
	rateLimit chan<- time.Time
	cfg       Config
	logger    *logger.Logger
}

// New creates a worker. rateLimit carries upstream usage-limit reset instants
// back to the scheduler.
func New(store Store, runner Runner, pause *PauseState, tasks <-chan *models.Task, rateLimit chan<- time.Time, cfg Config, log *logger.Logger) *Worker {
	if cfg.MaxVerifications <= 0 {
		cfg.MaxVerifications = 3
	}
	return &Worker{
		store:     store,
		runner:    runner,
		pause:     pause,
		tasks:     tasks,
		rateLimit: rateLimit,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "worker")),
	}
}

// Run consumes tasks until the context is cancelled or the channel closes.
// Tasks dequeued while a pause is in effect go straight back to Pending;
// this covers the window between a pause broadcast and the channel drain.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-w.tasks:
			if !ok {
				return
			}
			if w.pause.Paused(time.Now().UTC()) {
				w.logger.Info("paused, requeueing task", zap.Int64("task_id", task.ID))
				// Clearing resume_at keeps a Waiting-claimed task from carrying
				// a stale resume instant back into Pending.
				if err := w.store.UpdateStatusWithResumeAt(ctx, task.ID, models.StatusPending, nil, nil, nil); err != nil {
					w.logger.Error("failed to requeue task during pause",
						zap.Int64("task_id", task.ID), zap.Error(err))
				}
				continue
			}
			if err := w.executeTask(ctx, task); err != nil {
				w.logger.Warn("task did not complete",
					zap.Int64("task_id", task.ID), zap.Error(err))
			}
		}
	}
}

// executeTask runs the initial pass and then the verify loop. All status
// transitions happen here; the returned error is for logging only.
func (w *Worker) executeTask(ctx context.Context, task *models.Task) error {
	log := w.logger.WithTaskID(task.ID)
	logPath := w.logPath(task.ID)

	onSession := func(sid string) {
		s := sid
		if err := w.store.UpdateStatus(ctx, task.ID, models.StatusRunning, &s, nil); err != nil {
			log.Warn("failed to persist streamed session id", zap.Error(err))
		}
	}

	log.Info("executing task", zap.String("name", task.Name), zap.String("cwd", task.Cwd))

	res, err := w.runner.Run(ctx, claudecode.RunRequest{
		TaskID:      task.ID,
		Prompt:      task.Prompt,
		Cwd:         task.Cwd,
		LogPath:     logPath,
		SessionID:   task.SessionID,
		OnSessionID: onSession,
	})
	if err != nil {
		w.failTask(ctx, task.ID)
		return err
	}
	if res.RateLimitTimestamp != nil {
		w.handleRateLimit(ctx, task.ID, res.SessionID, *res.RateLimitTimestamp)
		return nil
	}
	if res.SessionID == nil {
		w.failTask(ctx, task.ID)
		return ErrNoSession
	}

	sessionID := res.SessionID
	if err := w.store.UpdateStatus(ctx, task.ID, models.StatusRunning, sessionID, nil); err != nil {
		log.Warn("failed to persist session id", zap.Error(err))
	}
	if !res.Success {
		w.failTask(ctx, task.ID)
		return ErrAgentExecution
	}

	verifyPrompt := task.Prompt + "\n\n" + verificationInstruction
	var previousResult *string

	for remaining := w.cfg.MaxVerifications; remaining > 0; remaining-- {
		log.Info("verification pass", zap.Int("remaining", remaining))

		vres, err := w.runner.Run(ctx, claudecode.RunRequest{
			TaskID:      task.ID,
			Prompt:      verifyPrompt,
			Cwd:         task.Cwd,
			LogPath:     logPath,
			SessionID:   sessionID,
			OnSessionID: onSession,
		})
		if err != nil {
			w.failTask(ctx, task.ID)
			return err
		}
		if vres.RateLimitTimestamp != nil {
			w.handleRateLimit(ctx, task.ID, sessionID, *vres.RateLimitTimestamp)
			return nil
		}
		if !vres.Success {
			w.failTask(ctx, task.ID)
			return ErrAgentExecution
		}

		output := vres.Output
		switch {
		case strings.Contains(output, SuccessSentinel):
			now := time.Now().UTC()
			if err := w.store.UpdateStatus(ctx, task.ID, models.StatusDone, nil, &now); err != nil {
				log.Error("failed to mark task done", zap.Error(err))
			}
			if err := w.store.UpdateOutputAndResult(ctx, task.ID, &output, previousResult); err != nil {
				log.Error("failed to store task outcome", zap.Error(err))
			}
			log.Info("task done", zap.Bool("has_result", previousResult != nil))
			return nil

		case strings.Contains(output, FailureSentinel):
			// Like the Done path, the sentinel pass itself is noise; the work
			// result comes from the previous iteration.
			w.failTask(ctx, task.ID)
			if err := w.store.UpdateOutputAndResult(ctx, task.ID, &output, previousResult); err != nil {
				log.Error("failed to store task outcome", zap.Error(err))
			}
			return ErrTaskReportedFailure

		default:
			previousResult = ExtractWorkResult(output)
			if remaining == 1 {
				w.failTask(ctx, task.ID)
				if err := w.store.UpdateOutputAndResult(ctx, task.ID, &output, nil); err != nil {
					log.Error("failed to store task outcome", zap.Error(err))
				}
				return ErrVerificationExhausted
			}
			// A non-final pass may have rolled the conversation over to a new
			// session; follow it so the next pass resumes the right one.
			if vres.SessionID != nil && (sessionID == nil || *vres.SessionID != *sessionID) {
				sessionID = vres.SessionID
				if err := w.store.UpdateStatus(ctx, task.ID, models.StatusRunning, sessionID, nil); err != nil {
					log.Warn("failed to persist rotated session id", zap.Error(err))
				}
			}
		}
	}

	return ErrVerificationExhausted
}

// handleRateLimit parks the task as Waiting until the reset instant and
// notifies the scheduler. Channel saturation just drops the signal; rate
// limits repeat until honored.
func (w *Worker) handleRateLimit(ctx context.Context, taskID int64, sessionID *string, epochSeconds int64) {
	log := w.logger.WithTaskID(taskID)

	resumeAt := time.Unix(epochSeconds, 0).UTC()
	if epochSeconds <= 0 || resumeAt.Year() > 9999 {
		resumeAt = time.Now().UTC().Add(time.Hour)
	}

	log.Info("rate limited", zap.Time("resume_at", resumeAt))

	select {
	case w.rateLimit <- resumeAt:
	default:
		log.Warn("rate limit channel full, dropping signal")
	}

	if err := w.store.UpdateStatusWithResumeAt(ctx, taskID, models.StatusWaiting, sessionID, nil, &resumeAt); err != nil {
		log.Error("failed to park rate-limited task", zap.Error(err))
	}
}

// failTask transitions a task to Failed. Errors here are logged and swallowed
// so a broken transition cannot wedge the pipeline.
func (w *Worker) failTask(ctx context.Context, taskID int64) {
	now := time.Now().UTC()
	if err := w.store.UpdateStatus(ctx, taskID, models.StatusFailed, nil, &now); err != nil {
		w.logger.Error("failed to mark task failed",
			zap.Int64("task_id", taskID), zap.Error(err))
	}
}

func (w *Worker) logPath(taskID int64) string {
	name := fmt.Sprintf("task_%d.jsonl", taskID)
	if w.cfg.LogDir == "" {
		return name
	}
	return filepath.Join(w.cfg.LogDir, name)
}
