package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/task/models"
	"go.uber.org/zap"
)

// Candidate selection for the claim. A task is ready when every task it
// depends on is done; dependencies on deleted tasks do not block.
//
// When a run is already in flight, only Waiting tasks whose resume instant
// has passed may be claimed. That keeps the single-runner rule while still
// letting a paused conversation continue.
const (
	claimCandidateAny = `
		SELECT t.id, t.name, t.prompt, t.cwd, t.status, t.session_id,
		       t.submitted_at, t.finished_at, t.output, t.result, t.resume_at
		FROM tasks t
		LEFT JOIN task_dependencies td ON t.id = td.task_id
		LEFT JOIN tasks dep ON td.depends_on_id = dep.id
		WHERE t.status = 'pending'
		   OR (t.status = 'waiting' AND (t.resume_at IS NULL OR t.resume_at <= ?))
		GROUP BY t.id
		HAVING COUNT(CASE WHEN dep.status IS NOT NULL AND dep.status != 'done' THEN 1 END) = 0
		ORDER BY t.submitted_at ASC
		LIMIT 1`

	claimCandidateWaitingOnly = `
		SELECT t.id, t.name, t.prompt, t.cwd, t.status, t.session_id,
		       t.submitted_at, t.finished_at, t.output, t.result, t.resume_at
		FROM tasks t
		LEFT JOIN task_dependencies td ON t.id = td.task_id
		LEFT JOIN tasks dep ON td.depends_on_id = dep.id
		WHERE t.status = 'waiting' AND (t.resume_at IS NULL OR t.resume_at <= ?)
		GROUP BY t.id
		HAVING COUNT(CASE WHEN dep.status IS NOT NULL AND dep.status != 'done' THEN 1 END) = 0
		ORDER BY t.submitted_at ASC
		LIMIT 1`
)

// ClaimNextReady atomically picks the oldest ready task and marks it Running.
// It returns nil when nothing is ready. The selection and the status flip
// happen in one transaction, so at most one claim can succeed per candidate.
func (s *Store) ClaimNextReady(ctx context.Context) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database("failed to begin claim transaction", err)
	}
	defer tx.Rollback()

	var running int
	if err := tx.GetContext(ctx, &running,
		`SELECT COUNT(*) FROM tasks WHERE status = 'running'`); err != nil {
		return nil, apperrors.Database("failed to count running tasks", err)
	}

	query := claimCandidateAny
	if running > 0 {
		query = claimCandidateWaitingOnly
	}

	var task models.Task
	err = tx.GetContext(ctx, &task, query, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database("failed to select claim candidate", err)
	}

	// Flip to running only if the row is still claimable. Zero rows means the
	// candidate changed state under us; report no work rather than a claim.
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'running' WHERE id = ? AND status IN ('pending', 'waiting')`,
		task.ID)
	if err != nil {
		return nil, apperrors.Database("failed to claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apperrors.Database("failed to read claim result", err)
	}
	if n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database("failed to commit claim", err)
	}

	task.Status = models.StatusRunning
	s.logger.Debug("task claimed",
		zap.Int64("task_id", task.ID),
		zap.Bool("restricted", running > 0))
	return &task, nil
}
