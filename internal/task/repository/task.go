package repository

import (
	"context"
	"time"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/task/models"
	"go.uber.org/zap"
)

// CreateTask inserts a task and its dependency edges in one transaction.
// Every dependency must reference an existing task and the resulting graph
// must stay acyclic, otherwise nothing is written.
func (s *Store) CreateTask(ctx context.Context, req *models.CreateTaskRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := validateDependencies(ctx, tx, req.DependsOn); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (name, prompt, cwd, status, submitted_at) VALUES (?, ?, ?, 'pending', ?)`,
		req.Name, req.Prompt, req.Cwd, time.Now().UTC())
	if err != nil {
		return 0, apperrors.Database("failed to insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Database("failed to read inserted task id", err)
	}

	if err := checkNoCycle(ctx, tx, id, req.DependsOn); err != nil {
		return 0, err
	}

	for _, dep := range req.DependsOn {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`, id, dep); err != nil {
			return 0, apperrors.Database("failed to insert task dependency", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Database("failed to commit task creation", err)
	}

	s.logger.Info("task created",
		zap.Int64("task_id", id),
		zap.String("name", req.Name),
		zap.Int64s("depends_on", req.DependsOn))
	return id, nil
}

// UpdateStatus sets the status of a task. The session id and finish time are
// only overwritten when non-nil, so later status transitions never erase the
// session handle recorded by an earlier one.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus, sessionID *string, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = ?, session_id = COALESCE(?, session_id), finished_at = COALESCE(?, finished_at)
		 WHERE id = ?`,
		status, sessionID, finishedAt, id)
	if err != nil {
		return apperrors.Database("failed to update task status", err)
	}
	return requireRowAffected(res, id)
}

// UpdateStatusWithResumeAt is UpdateStatus plus an unconditional write of the
// resume instant. Passing nil clears it.
func (s *Store) UpdateStatusWithResumeAt(ctx context.Context, id int64, status models.TaskStatus, sessionID *string, finishedAt, resumeAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = ?, session_id = COALESCE(?, session_id), finished_at = COALESCE(?, finished_at), resume_at = ?
		 WHERE id = ?`,
		status, sessionID, finishedAt, resumeAt, id)
	if err != nil {
		return apperrors.Database("failed to update task status", err)
	}
	return requireRowAffected(res, id)
}

// UpdateOutputAndResult stores the agent transcript and the extracted final
// answer for a finished run.
func (s *Store) UpdateOutputAndResult(ctx context.Context, id int64, output, result *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET output = ?, result = ? WHERE id = ?`, output, result, id)
	if err != nil {
		return apperrors.Database("failed to update task output", err)
	}
	return requireRowAffected(res, id)
}

// UpdateName renames a task.
func (s *Store) UpdateName(ctx context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return apperrors.Database("failed to rename task", err)
	}
	return requireRowAffected(res, id)
}

// UpdatePrompt replaces the prompt of a task without touching its status.
func (s *Store) UpdatePrompt(ctx context.Context, id int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET prompt = ? WHERE id = ?`, prompt, id)
	if err != nil {
		return apperrors.Database("failed to update task prompt", err)
	}
	return requireRowAffected(res, id)
}

// EditAndReset replaces the prompt and requeues a finished task. The prior
// outcome fields are cleared but the session id is kept, so the rerun resumes
// the agent conversation with the corrected prompt.
func (s *Store) EditAndReset(ctx context.Context, id int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET prompt = ?, status = 'pending', finished_at = NULL, output = NULL, result = NULL, resume_at = NULL
		 WHERE id = ?`,
		prompt, id)
	if err != nil {
		return apperrors.Database("failed to edit task", err)
	}
	return requireRowAffected(res, id)
}

// Delete removes a task. Dependency edges in either direction go with it via
// the foreign key cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return apperrors.Database("failed to delete task", err)
	}
	if err := requireRowAffected(res, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", zap.Int64("task_id", id))
	return nil
}

func requireRowAffected(res interface{ RowsAffected() (int64, error) }, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Database("failed to read rows affected", err)
	}
	if n == 0 {
		return apperrors.TaskNotFound(id)
	}
	return nil
}
