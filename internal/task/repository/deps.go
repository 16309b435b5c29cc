package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/task/models"
)

// ValidateDependencies verifies every referenced task id exists.
func (s *Store) ValidateDependencies(ctx context.Context, deps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validateDependencies(ctx, s.db, deps)
}

// CheckNoCycle verifies that adding the given dependency edges for taskID
// keeps the graph acyclic.
func (s *Store) CheckNoCycle(ctx context.Context, taskID int64, deps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return checkNoCycle(ctx, s.db, taskID, deps)
}

// Dependencies returns the ids a task depends on.
func (s *Store) Dependencies(ctx context.Context, taskID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	err := sqlx.SelectContext(ctx, s.db, &ids,
		`SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id`, taskID)
	if err != nil {
		return nil, apperrors.Database("failed to list dependencies", err)
	}
	return ids, nil
}

func validateDependencies(ctx context.Context, q sqlx.QueryerContext, deps []int64) error {
	for _, dep := range deps {
		var exists int
		err := sqlx.GetContext(ctx, q, &exists, `SELECT COUNT(*) FROM tasks WHERE id = ?`, dep)
		if err != nil {
			return apperrors.Database("failed to validate dependency", err)
		}
		if exists == 0 {
			return apperrors.BadRequest(fmt.Sprintf("dependency task %d does not exist", dep))
		}
	}
	return nil
}

// checkNoCycle walks the dependency graph from each proposed edge. Reaching
// taskID again means the new edges would close a cycle.
func checkNoCycle(ctx context.Context, q sqlx.QueryerContext, taskID int64, deps []int64) error {
	if len(deps) == 0 {
		return nil
	}

	var edges []models.TaskDependency
	err := sqlx.SelectContext(ctx, q, &edges,
		`SELECT task_id, depends_on_id FROM task_dependencies`)
	if err != nil {
		return apperrors.Database("failed to load dependency graph", err)
	}

	graph := make(map[int64][]int64, len(edges)+1)
	for _, e := range edges {
		graph[e.TaskID] = append(graph[e.TaskID], e.DependsOnID)
	}
	graph[taskID] = append(graph[taskID], deps...)

	visited := make(map[int64]bool)
	var walk func(from int64) bool
	walk = func(from int64) bool {
		if from == taskID {
			return true
		}
		if visited[from] {
			return false
		}
		visited[from] = true
		for _, next := range graph[from] {
			if walk(next) {
				return true
			}
		}
		return false
	}

	for _, dep := range deps {
		if dep == taskID || walk(dep) {
			return apperrors.CircularDependency()
		}
	}
	return nil
}
