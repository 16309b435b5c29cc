// Package repository provides the durable SQLite-backed task store.
//
// The store exclusively owns persistent task state. Every operation takes the
// single-writer lock, so callers observe serialized, transactional updates.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/task/models"
)

// taskColumns is the canonical select list for task rows.
const taskColumns = "id, name, prompt, cwd, status, session_id, submitted_at, finished_at, output, result, resume_at"

// Store provides SQLite-backed task storage operations.
type Store struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger *logger.Logger
}

// New creates a store on top of an open database connection and runs the
// schema migrations.
func New(conn *sqlx.DB, log *logger.Logger) (*Store, error) {
	s := &Store{db: conn, logger: log}
	if err := s.initSchema(); err != nil {
		return nil, apperrors.Database("failed to initialize schema", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the tables and indexes, then applies the idempotent
// column migrations for databases created by earlier releases.
func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			cwd TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'running', 'done', 'failed', 'waiting')),
			session_id TEXT,
			submitted_at DATETIME NOT NULL DEFAULT (datetime('now', 'utc')),
			finished_at DATETIME,
			output TEXT,
			result TEXT,
			resume_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id INTEGER NOT NULL,
			depends_on_id INTEGER NOT NULL,
			PRIMARY KEY (task_id, depends_on_id),
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
			FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on_id ON task_dependencies(depends_on_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	// Databases created before these columns existed get them added here.
	// The ALTER fails harmlessly when the column is already present.
	_, _ = s.db.Exec(`ALTER TABLE tasks ADD COLUMN resume_at DATETIME`)
	_, _ = s.db.Exec(`ALTER TABLE tasks ADD COLUMN result TEXT`)

	return nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.Task
	err := s.db.GetContext(ctx, &task, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.TaskNotFound(id)
	}
	if err != nil {
		return nil, apperrors.Database("failed to fetch task", err)
	}
	return &task, nil
}

// GetTaskBySession returns the task owning the given agent session.
func (s *Store) GetTaskBySession(ctx context.Context, sessionID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.Task
	err := s.db.GetContext(ctx, &task, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.TaskNotFoundBySession(sessionID)
	}
	if err != nil {
		return nil, apperrors.Database("failed to fetch task by session", err)
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by submission time.
func (s *Store) ListTasks(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*models.Task
	err := s.db.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, apperrors.Database("failed to list tasks", err)
	}
	return tasks, nil
}

// TasksByStatus returns all tasks in the given status, oldest submission first.
func (s *Store) TasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*models.Task
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY submitted_at ASC`, status)
	if err != nil {
		return nil, apperrors.Database("failed to list tasks by status", err)
	}
	return tasks, nil
}

// WaitingReadyToResume returns Waiting tasks whose resume instant has passed
// (or was never set).
func (s *Store) WaitingReadyToResume(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*models.Task
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'waiting' AND (resume_at IS NULL OR resume_at <= ?)
		 ORDER BY submitted_at ASC`,
		time.Now().UTC())
	if err != nil {
		return nil, apperrors.Database("failed to list resumable waiting tasks", err)
	}
	return tasks, nil
}

// CleanupOrphanedRunning resets tasks persisted as Running without a session
// id back to Pending and returns their ids. A Running row with no session is
// a leftover from an abnormal termination: the worker never got far enough to
// learn the agent's session, so nothing can be resumed.
func (s *Store) CleanupOrphanedRunning(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM tasks WHERE status = 'running' AND session_id IS NULL`)
	if err != nil {
		return nil, apperrors.Database("failed to find orphaned running tasks", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`UPDATE tasks SET status = 'pending' WHERE id IN (?)`, ids)
	if err != nil {
		return nil, apperrors.Database("failed to build orphan reset query", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, apperrors.Database("failed to reset orphaned running tasks", err)
	}
	return ids, nil
}
